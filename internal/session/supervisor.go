package session

import (
	"sync"
	"time"
)

// Supervisor is a restartable deadline timer. Arm schedules the callback,
// Reset pushes the deadline out to the full duration again, Disarm cancels.
// All three serialize against the firing path, so a reset observed before
// the old deadline guarantees the old deadline never fires.
type Supervisor struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	armed bool
	fire  func()
}

// NewSupervisor returns a disarmed Supervisor invoking fire on expiry.
// fire runs on the timer goroutine with no locks held.
func NewSupervisor(fire func()) *Supervisor {
	return &Supervisor{fire: fire}
}

// Arm cancels any pending deadline and schedules the callback at now + d.
func (s *Supervisor) Arm(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(d)
}

// Reset re-arms the full deadline if one is pending; otherwise it is a no-op.
func (s *Supervisor) Reset(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return
	}
	s.armLocked(d)
}

func (s *Supervisor) armLocked(d time.Duration) {
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.armed = true
	s.timer = time.AfterFunc(d, func() { s.expire(gen) })
}

func (s *Supervisor) expire(gen uint64) {
	s.mu.Lock()
	// A stale generation means Arm, Reset or Disarm won the race.
	if gen != s.gen || !s.armed {
		s.mu.Unlock()
		return
	}
	s.armed = false
	s.timer = nil
	s.mu.Unlock()
	s.fire()
}

// Disarm cancels any pending deadline. Safe to call when none is pending.
func (s *Supervisor) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armed = false
}

// Armed reports whether a deadline is pending.
func (s *Supervisor) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}
