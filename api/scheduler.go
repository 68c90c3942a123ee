/*
scheduler.go - Daily subscription sweep scheduler

PURPOSE:
  Fires the engine's daily subscription sweep once per calendar day at a
  fixed wall-clock time in the farms' time zone (default 05:00, before the
  morning session opens).

DESIGN:
  - Runs a background goroutine that sleeps on a timer until the next
    fire time, computed from the configured hour:minute in Location
  - Records the last date it swept; a timer firing twice for the same day
    (clock adjustment, DST) does not sweep twice
  - Does NOT catch up on start: a process started after today's fire time
    waits for tomorrow. Use RunNow or POST /api/admin/sweep instead.

  The sweep itself is not idempotent. The last-run guard only covers this
  process; running several schedulers against one database needs an
  external single-instance guarantee.

USAGE:
  scheduler := NewSweepScheduler(engine, 5, 0, loc, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - dairy/subscription.go: RunDailySubscriptionSweep
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/dairy-engine/dairy"
)

// SweepScheduler triggers RunDailySubscriptionSweep once per day.
type SweepScheduler struct {
	Engine   *dairy.Engine
	Hour     int
	Minute   int
	Location *time.Location
	Enabled  bool
	Log      logrus.FieldLogger

	// Timeout bounds a single sweep run.
	Timeout time.Duration

	stop    chan struct{}
	running bool
	wg      sync.WaitGroup
	mu      sync.Mutex

	runMu   sync.Mutex
	lastRun dairy.Date
}

// NewSweepScheduler creates a scheduler firing at hour:minute in loc.
func NewSweepScheduler(engine *dairy.Engine, hour, minute int, loc *time.Location, log logrus.FieldLogger) *SweepScheduler {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SweepScheduler{
		Engine:   engine,
		Hour:     hour,
		Minute:   minute,
		Location: loc,
		Enabled:  true,
		Log:      log,
		Timeout:  10 * time.Minute,
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("sweep scheduler disabled, not starting")
		return
	}
	if s.running {
		return
	}

	s.stop = make(chan struct{})
	s.running = true
	s.wg.Add(1)
	go s.run()

	s.Log.WithField("next_run", s.NextRun(s.now()).Format(time.RFC3339)).Info("sweep scheduler started")
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.running = false
	s.Log.Info("sweep scheduler stopped")
}

func (s *SweepScheduler) run() {
	defer s.wg.Done()

	for {
		wait := s.NextRun(s.now()).Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			s.fire()
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

// fire sweeps today unless this scheduler already did.
func (s *SweepScheduler) fire() {
	today := s.Engine.Today()

	s.runMu.Lock()
	already := s.lastRun.Equal(today)
	s.runMu.Unlock()
	if already {
		s.Log.WithField("date", today.String()).Warn("sweep already ran today, skipping")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	if _, err := s.sweep(ctx, today); err != nil {
		s.Log.WithError(err).Error("scheduled sweep failed")
	}
}

// RunNow sweeps today immediately, regardless of whether the scheduled
// run already happened.
func (s *SweepScheduler) RunNow(ctx context.Context) (dairy.SweepReport, error) {
	return s.sweep(ctx, s.Engine.Today())
}

func (s *SweepScheduler) sweep(ctx context.Context, day dairy.Date) (dairy.SweepReport, error) {
	report, err := s.Engine.RunDailySubscriptionSweep(ctx, day)
	if err != nil {
		return report, err
	}
	s.runMu.Lock()
	s.lastRun = day
	s.runMu.Unlock()
	return report, nil
}

// LastRun returns the last date swept by this scheduler, zero if none.
func (s *SweepScheduler) LastRun() dairy.Date {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.lastRun
}

// NextRun returns the first fire time strictly after now.
func (s *SweepScheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, s.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.Hour, s.Minute, 0, 0, s.Location)
	}
	return next
}

func (s *SweepScheduler) now() time.Time {
	if s.Engine != nil && s.Engine.Clock != nil {
		return s.Engine.Clock.Now()
	}
	return time.Now()
}
