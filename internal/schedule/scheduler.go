// Package schedule arms one-off prayer and refresh triggers inside a single
// timezone.
//
// The job table holds two disjoint pools: up to five prayer jobs and at most
// one refresh job. Arming is always replace-all, never an incremental diff,
// so no stale or duplicate job can survive across refresh cycles. Timer
// firings are posted onto the run loop before user callbacks execute.
package schedule

import (
	"sync"
	"time"

	"adhand/internal/prayer"
	"adhand/internal/runloop"
	"adhand/pkg/logx"
)

// Clock supplies "now"; injectable for tests.
type Clock func() time.Time

type Option func(*Scheduler)

// WithClock overrides the scheduler's time source.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.now = c
		}
	}
}

type job struct {
	id    uint64
	name  string
	timer *time.Timer
}

type Scheduler struct {
	mu sync.Mutex

	log  logx.Logger
	loop *runloop.Loop
	loc  *time.Location
	now  Clock

	running bool
	seq     uint64

	prayerJobs map[uint64]*job
	refreshJob *job
}

func New(loc *time.Location, loop *runloop.Loop, log logx.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		log:        log,
		loop:       loop,
		loc:        loc,
		now:        time.Now,
		prayerJobs: map[uint64]*job{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timezone reports the configured zone. The orchestrator compares it against
// a freshly fetched day's zone to decide reuse versus teardown-and-rebuild.
func (s *Scheduler) Timezone() *time.Location { return s.loc }

// Start marks the scheduler live. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()))
}

// Shutdown cancels every armed job and stops the timer mechanism. Idempotent,
// does not block: timers already racing their natural firing are absorbed by
// the job-table check in fire().
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.clearPrayerJobsLocked()
	s.cancelRefreshLocked()
	s.log.Info("scheduler stopped", logx.String("tz", s.loc.String()))
}

// ArmPrayers replaces the entire prayer-job pool: every currently armed
// prayer job is cancelled first, then a one-off job is armed for each entry
// whose instant is strictly later than now in the scheduler's zone. Entries
// at or before now are skipped; no catch-up firing for times already passed.
// Returns the number of jobs armed.
func (s *Scheduler) ArmPrayers(prayers []prayer.Info, cb func(prayer.Name)) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearPrayerJobsLocked()
	if !s.running {
		s.log.Warn("arm requested on stopped scheduler; ignoring")
		return 0
	}

	now := s.now().In(s.loc)
	armed := 0
	for _, p := range prayers {
		if !p.Time.After(now) {
			s.log.Debug("skipping past prayer", logx.String("prayer", string(p.Name)), logx.Time("at", p.Time))
			continue
		}
		name := p.Name
		j := s.armLocked(string(name), p.Time, func() { cb(name) })
		s.prayerJobs[j.id] = j
		armed++
	}
	s.log.Debug("prayer jobs armed", logx.Int("armed", armed), logx.Int("given", len(prayers)))
	return armed
}

// ArmRefresh replaces the single refresh job with a new one-off trigger at
// nextRun. There is no periodic timer; each cycle arms exactly the next
// occurrence, which is what drives daily rollover.
func (s *Scheduler) ArmRefresh(nextRun time.Time, cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelRefreshLocked()
	if !s.running {
		s.log.Warn("arm requested on stopped scheduler; ignoring")
		return
	}
	s.refreshJob = s.armLocked("refresh", nextRun, cb)
	s.log.Debug("refresh job armed", logx.Time("at", nextRun))
}

// ArmedPrayers reports the number of live prayer jobs.
func (s *Scheduler) ArmedPrayers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prayerJobs)
}

// RefreshArmed reports whether a refresh job is live.
func (s *Scheduler) RefreshArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshJob != nil
}

func (s *Scheduler) armLocked(name string, at time.Time, cb func()) *job {
	s.seq++
	j := &job{id: s.seq, name: name}

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	j.timer = time.AfterFunc(delay, func() { s.fire(j, cb) })
	s.log.Debug("job armed", logx.Uint64("job", j.id), logx.String("name", name), logx.Time("at", at))
	return j
}

// fire runs on the timer's own goroutine. The job must still be in the table
// (a cancel that lost the race against natural firing is a benign no-op);
// the user callback is then posted onto the run loop.
func (s *Scheduler) fire(j *job, cb func()) {
	s.mu.Lock()
	live := false
	if s.refreshJob == j {
		s.refreshJob = nil
		live = true
	} else if _, ok := s.prayerJobs[j.id]; ok {
		delete(s.prayerJobs, j.id)
		live = true
	}
	running := s.running
	s.mu.Unlock()

	if !live || !running {
		s.log.Debug("ignoring fire of cancelled job", logx.Uint64("job", j.id), logx.String("name", j.name))
		return
	}

	s.log.Info("job fired", logx.Uint64("job", j.id), logx.String("name", j.name))
	if !s.loop.Post(cb) {
		s.log.Error("job callback dropped; run loop stopped",
			logx.Uint64("job", j.id), logx.String("name", j.name))
	}
}

func (s *Scheduler) clearPrayerJobsLocked() {
	for id, j := range s.prayerJobs {
		s.stopTimerLocked(j)
		delete(s.prayerJobs, id)
	}
}

func (s *Scheduler) cancelRefreshLocked() {
	if s.refreshJob == nil {
		return
	}
	s.stopTimerLocked(s.refreshJob)
	s.refreshJob = nil
}

// stopTimerLocked cancels a timer. Stop returning false means the job
// already fired or is firing; a legitimate race, absorbed in fire() by the
// job-table check. There is no other failure mode for time.Timer, so nothing
// here ever raises.
func (s *Scheduler) stopTimerLocked(j *job) {
	if j.timer == nil {
		return
	}
	if !j.timer.Stop() {
		s.log.Debug("cancel raced with firing", logx.Uint64("job", j.id), logx.String("name", j.name))
	}
}
