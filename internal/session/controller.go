package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parla-voice/parla/internal/events"
	"github.com/parla-voice/parla/internal/fsm"
	"github.com/parla-voice/parla/internal/timeout"
)

// Controller owns the pipeline stage and the session bound to it. Every
// stage change flows through here so listeners observe transitions in the
// exact order they occur, and each transition's event is delivered before
// the call returns.
type Controller struct {
	logger *slog.Logger
	bus    *events.Bus
	timers *timeout.Supervisor

	// pubMu serializes transition+publish pairs so delivery order matches
	// transition order.
	pubMu sync.Mutex

	mu    sync.RWMutex
	stage fsm.Stage
	sess  *Session
	last  events.Metrics
}

// NewController constructs a stage controller resting at idle.
func NewController(logger *slog.Logger, bus *events.Bus, timers *timeout.Supervisor) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if timers == nil {
		timers = timeout.NewSupervisor()
	}

	return &Controller{
		logger: logger,
		bus:    bus,
		timers: timers,
		stage:  fsm.StageIdle,
	}
}

// Stage returns the current pipeline stage snapshot.
func (c *Controller) Stage() fsm.Stage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stage
}

// Snapshot returns the current stage and the id of the bound session, if any.
func (c *Controller) Snapshot() (fsm.Stage, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id := ""
	if c.sess != nil {
		id = c.sess.ID
	}
	return c.stage, id
}

// Metrics returns the active session's metrics, or the last completed
// session's metrics when the pipeline is at rest.
func (c *Controller) Metrics() events.Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess != nil {
		return c.sess.metrics
	}
	return c.last
}

// Claim binds sess as the active session. It fails when a session is
// already bound or the pipeline is mid-walk; triggers are rejected, never
// queued.
func (c *Controller) Claim(sess *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil || fsm.Busy(c.stage) {
		return ErrSessionActive
	}
	c.sess = sess
	return nil
}

// Transition moves the pipeline to the next stage and publishes the change.
// An invalid transition is coerced into the error stage when one is
// reachable, so a derailed walk still funnels through the usual recovery
// exit; the original error is returned either way.
func (c *Controller) Transition(to fsm.Stage, errDetail string) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	from := c.stage
	next, err := fsm.Transition(from, to)
	if err != nil {
		forced, ferr := fsm.Transition(from, fsm.StageError)
		if ferr != nil {
			c.mu.Unlock()
			return err
		}
		c.stage = forced
		if from == fsm.StageActiveCapture {
			c.timers.CancelActive()
		}
		ev := c.snapshotLocked(err.Error())
		c.mu.Unlock()
		c.logger.Warn("invalid stage transition, entering error stage",
			"from", from, "to", to, "error", err)
		c.bus.Publish(ev)
		return err
	}

	c.stage = next
	if from == fsm.StageActiveCapture {
		c.timers.CancelActive()
	}
	ev := c.snapshotLocked(errDetail)
	c.mu.Unlock()
	c.bus.Publish(ev)
	return nil
}

// Resolve performs the final transition of a walk: it freezes the bound
// session's metrics, retains them for later reads, unbinds the session,
// and publishes the resting stage.
func (c *Controller) Resolve(to fsm.Stage, errDetail string) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	from := c.stage
	next, err := fsm.Transition(from, to)
	if err != nil {
		c.settleLocked()
		c.mu.Unlock()
		return err
	}

	c.stage = next
	if from == fsm.StageActiveCapture {
		c.timers.CancelActive()
	}
	if c.sess != nil {
		c.sess.finish()
	}
	ev := c.snapshotLocked(errDetail)
	c.settleLocked()
	c.mu.Unlock()
	c.bus.Publish(ev)
	return nil
}

// Reset forces the pipeline back to idle, abandoning any bound session and
// releasing any armed deadline. Host teardown only; the stage change
// bypasses the transition table but still publishes.
func (c *Controller) Reset() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	if c.stage == fsm.StageIdle && c.sess == nil {
		c.mu.Unlock()
		return
	}
	c.timers.CancelActive()
	c.stage = fsm.StageIdle
	if c.sess != nil {
		c.sess.finish()
	}
	ev := c.snapshotLocked("")
	c.settleLocked()
	c.mu.Unlock()
	c.bus.Publish(ev)
}

// updateSession mutates the bound session under the controller lock. It
// reports false when the session is gone or the id no longer matches, which
// lets stale pipeline tails abort silently.
func (c *Controller) updateSession(id string, fn func(*Session)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.ID != id {
		return false
	}
	fn(c.sess)
	return true
}

// capturing reports whether id is the bound session and its capture window
// is still open.
func (c *Controller) capturing(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess != nil && c.sess.ID == id &&
		c.stage == fsm.StageActiveCapture && !c.sess.captureEnded
}

// endCapture atomically marks the end of the capture window. Exactly one of
// the competing finishers (final result, early accept, stop flush, timeout,
// recognition error) wins; the rest observe false and stand down.
func (c *Controller) endCapture(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.ID != id {
		return false
	}
	if c.stage != fsm.StageActiveCapture || c.sess.captureEnded {
		return false
	}
	c.sess.captureEnded = true
	return true
}

// settleLocked freezes and unbinds any bound session.
func (c *Controller) settleLocked() {
	if c.sess == nil {
		return
	}
	c.sess.finish()
	c.last = c.sess.metrics
	c.sess = nil
}

func (c *Controller) snapshotLocked(errDetail string) events.Event {
	ev := events.Event{
		Stage: c.stage,
		Err:   errDetail,
		At:    time.Now(),
	}
	if c.sess != nil {
		ev.SessionID = c.sess.ID
		ev.Transcript = c.sess.Transcript
		ev.ResponseText = c.sess.ResponseText
		m := c.sess.metrics
		ev.Metrics = &m
	}
	return ev
}
