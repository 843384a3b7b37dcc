package report

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	applog "budget/internal/log"
)

// DefaultSchedule runs at 00:00 UTC on the 2nd of every month.
const DefaultSchedule = "0 0 2 * *"

// Scheduler triggers the monthly jobs on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	logger *applog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler parses schedule as a standard five-field cron expression in UTC.
func NewScheduler(runner *Runner, schedule string, logger *applog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		runner: runner,
		logger: logger.WithComponent(applog.ComponentReport),
		ctx:    ctx,
		cancel: cancel,
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("parse report schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	now := time.Now().UTC()
	s.logger.Info("Scheduled report run", "at", now)
	if err := s.runner.RunMonthly(s.ctx, now); err != nil {
		s.logger.Warn("Scheduled report run finished with errors", applog.FieldError, err)
	}
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("Report scheduler started", "next_run", e.Next)
	}
}

// Stop cancels a running job and waits for it to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now().UTC())
}
