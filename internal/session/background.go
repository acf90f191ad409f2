package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/fsm"
	"github.com/parla-voice/parla/internal/timeout"
)

// BackgroundSupervisor keeps exactly one listening mode active: the wake
// detector runs only while the pipeline rests in passive listening, never
// during an active capture.
type BackgroundSupervisor struct {
	logger   *slog.Logger
	ctrl     *Controller
	timers   *timeout.Supervisor
	detector WakeDetector
	cfg      func() config.Config

	mu            sync.Mutex
	running       bool
	enabled       bool
	passiveHandle timeout.Handle
}

// NewBackgroundSupervisor wires passive listening supervision around the
// shared stage controller and deadline supervisor.
func NewBackgroundSupervisor(
	logger *slog.Logger,
	ctrl *Controller,
	timers *timeout.Supervisor,
	detector WakeDetector,
	cfg func() config.Config,
) *BackgroundSupervisor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if detector == nil {
		detector = newNoopDetector()
	}
	if cfg == nil {
		cfg = func() config.Config { return config.Default() }
	}

	return &BackgroundSupervisor{
		logger:   logger,
		ctrl:     ctrl,
		timers:   timers,
		detector: detector,
		cfg:      cfg,
		enabled:  cfg().Background.Enabled,
	}
}

// Enabled reports whether the pipeline should rest in passive listening
// between sessions.
func (b *BackgroundSupervisor) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// SetEnabled records the desired resting mode without touching the detector.
func (b *BackgroundSupervisor) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// Running reports whether the wake detector is currently live.
func (b *BackgroundSupervisor) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// StartPassive enters passive listening from idle. It is a no-op when
// passive listening is already live and refuses while a session walk is in
// flight.
func (b *BackgroundSupervisor) StartPassive(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stage, sessID := b.ctrl.Snapshot()
	if b.running && stage == fsm.StagePassiveListening {
		return nil
	}
	if sessID != "" || stage != fsm.StageIdle {
		return ErrSessionActive
	}
	return b.startLocked(ctx)
}

// ResumePassive re-enters passive listening at the end of a session walk,
// settling the finished session on the way. It also serves redundant calls
// while already passive.
func (b *BackgroundSupervisor) ResumePassive(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stage, _ := b.ctrl.Snapshot()
	if b.running && stage == fsm.StagePassiveListening {
		return nil
	}
	if stage != fsm.StageIdle && !fsm.Terminal(stage) {
		return ErrSessionActive
	}
	return b.startLocked(ctx)
}

// Suspend halts wake detection without touching the pipeline stage. The
// trigger path calls this before entering active capture so passive and
// active listening never overlap.
func (b *BackgroundSupervisor) Suspend() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

// StopPassive exits background listening entirely, returning the pipeline
// to idle when it was resting in passive listening.
func (b *BackgroundSupervisor) StopPassive() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopLocked()
	if stage, sessID := b.ctrl.Snapshot(); stage == fsm.StagePassiveListening && sessID == "" {
		b.ctrl.Reset()
	}
}

// startLocked starts the detector before publishing the stage change, so
// listeners observing passive listening can rely on the detector being live.
func (b *BackgroundSupervisor) startLocked(ctx context.Context) error {
	if err := b.detector.Start(ctx); err != nil {
		return err
	}
	if err := b.ctrl.Resolve(fsm.StagePassiveListening, ""); err != nil {
		if stopErr := b.detector.Stop(); stopErr != nil {
			b.logger.Warn("wake detector stop failed", "error", stopErr)
		}
		return err
	}
	b.running = true
	b.armPassiveLocked()
	return nil
}

func (b *BackgroundSupervisor) stopLocked() {
	if !b.running {
		return
	}
	b.timers.Cancel(b.passiveHandle)
	if err := b.detector.Stop(); err != nil {
		b.logger.Warn("wake detector stop failed", "error", err)
	}
	b.running = false
}

// armPassiveLocked schedules the optional passive-listening window. A zero
// or negative window means listen indefinitely.
func (b *BackgroundSupervisor) armPassiveLocked() {
	d := b.cfg().PassiveTimeout()
	if d <= 0 {
		return
	}
	b.passiveHandle = b.timers.Arm(d, b.onPassiveTimeout)
}

func (b *BackgroundSupervisor) onPassiveTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()

	stage, sessID := b.ctrl.Snapshot()
	if !b.running || stage != fsm.StagePassiveListening || sessID != "" {
		return
	}
	b.logger.Info("passive listening window expired, returning to idle")
	b.stopLocked()
	b.ctrl.Reset()
}
