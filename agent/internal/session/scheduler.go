package session

import (
	"sync"
	"time"
)

// DefaultRefreshLead is how long before expiry the scheduler fires
const DefaultRefreshLead = 120 * time.Second

// Scheduler keeps at most one pending refresh timer.
//
// A timer that was already firing when it got replaced or cancelled is
// recognised by its sequence number and does nothing.
type Scheduler struct {
	clock Clock
	lead  time.Duration
	fire  func()

	mu    sync.Mutex
	timer Timer
	at    time.Time
	seq   uint64
}

// NewScheduler creates a scheduler that calls fire lead before each armed expiry
func NewScheduler(clock Clock, lead time.Duration, fire func()) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	if lead <= 0 {
		lead = DefaultRefreshLead
	}
	return &Scheduler{clock: clock, lead: lead, fire: fire}
}

// Arm replaces any pending timer with one firing at expiry minus the lead.
// A deadline already in the past fires immediately.
func (s *Scheduler) Arm(expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	delay := expiry.Sub(s.clock.Now()) - s.lead
	if delay < 0 {
		delay = 0
	}
	s.seq++
	seq := s.seq
	s.at = s.clock.Now().Add(delay)
	s.timer = s.clock.AfterFunc(delay, func() { s.run(seq) })
}

// Cancel stops the pending timer. Safe to call when nothing is armed.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.seq++
}

// Pending reports whether a refresh is scheduled
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// NextAt returns when the pending refresh fires
func (s *Scheduler) NextAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return time.Time{}, false
	}
	return s.at, true
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.at = time.Time{}
	}
}

func (s *Scheduler) run(seq uint64) {
	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.at = time.Time{}
	s.mu.Unlock()

	s.fire()
}
