// Package timeout supervises the single cancellable deadline the voice
// pipeline may hold at any moment.
package timeout

import (
	"sync"
	"time"
)

// Handle identifies one armed deadline. Handles from superseded arms are
// stale and cancelling them is a no-op.
type Handle struct {
	gen uint64
}

// Supervisor owns at most one armed deadline. Arming a new deadline cancels
// the previous one first. Firing and cancelling race through a single armed
// flag: whichever takes the flag first wins, and the loser stands down
// without side effects.
type Supervisor struct {
	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
	armed bool
}

func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Arm schedules onFire to run after d unless cancelled first. onFire runs on
// the timer goroutine with no supervisor locks held, so it may re-arm or
// cancel. Callers that share the supervisor across sessions must guard
// onFire with their own session identity check; the supervisor only
// guarantees at-most-once firing per handle.
func (s *Supervisor) Arm(d time.Duration, onFire func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked()
	s.gen++
	gen := s.gen
	s.armed = true
	s.timer = time.AfterFunc(d, func() { s.fire(gen, onFire) })
	return Handle{gen: gen}
}

// Cancel releases the deadline identified by h. Idempotent: cancelling a
// fired, cancelled, superseded, or zero handle is a no-op.
func (s *Supervisor) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.armed || s.gen != h.gen {
		return
	}
	s.disarmLocked()
}

// CancelActive releases whatever deadline is currently armed, if any.
func (s *Supervisor) CancelActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
}

// Armed reports whether a deadline is currently live.
func (s *Supervisor) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

func (s *Supervisor) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
}

func (s *Supervisor) fire(gen uint64, onFire func()) {
	s.mu.Lock()
	if !s.armed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.armed = false
	s.timer = nil
	s.mu.Unlock()

	onFire()
}
