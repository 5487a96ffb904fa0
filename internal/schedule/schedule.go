// Package schedule computes and drives the daily check-in trigger.
package schedule

import (
	"log"
	"sync"
	"time"

	"github.com/shehryarbajwa/checkin-mini/pkg/models"
)

// NextRun returns the next local-time occurrence of hour:minute after now:
// the same day if still ahead, otherwise the following day.
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Scheduler registers a single recurring daily trigger. Set always clears
// any pending timer before re-registering, so reschedules are idempotent.
type Scheduler struct {
	mu    sync.Mutex
	timer *time.Timer
	next  time.Time
	cfg   models.ScheduleConfig
	fire  func()
	now   func() time.Time
}

// NewScheduler creates a scheduler that invokes fire at each daily anchor.
func NewScheduler(fire func()) *Scheduler {
	return &Scheduler{
		fire: fire,
		now:  time.Now,
	}
}

// Set replaces the current schedule. Disabled schedules just clear.
func (s *Scheduler) Set(cfg models.ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	s.cfg = cfg

	if !cfg.Enabled {
		return
	}
	s.armLocked()
}

// Clear cancels any pending trigger.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// NextFire returns the pending anchor time, if a trigger is armed.
func (s *Scheduler) NextFire() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.timer != nil
}

func (s *Scheduler) clearLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.next = time.Time{}
	}
}

func (s *Scheduler) armLocked() {
	s.next = NextRun(s.now(), s.cfg.Hour, s.cfg.Minute)
	d := s.next.Sub(s.now())
	log.Printf("⏰ Next scheduled check-in at %s", s.next.Format(time.RFC1123))

	s.timer = time.AfterFunc(d, func() {
		s.fire()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.timer == nil || !s.cfg.Enabled {
			return
		}
		// Re-anchor for the next day rather than relying on a fixed
		// 24h period, so DST shifts keep the local wall-clock time.
		s.armLocked()
	})
}
