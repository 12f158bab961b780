package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers pipeline runs on a cron cadence. Runs overlapping the
// next tick are skipped rather than stacked, since a run is idempotent and
// the next one re-covers anything it missed.
type Scheduler struct {
	cron     *cron.Cron
	tasks    *Tasks
	schedule string
	logger   *slog.Logger
}

// NewScheduler wires tasks.Run onto the given cron schedule. Both 5-field
// expressions and descriptors like "@daily" are accepted; empty defaults to
// "@daily".
func NewScheduler(tasks *Tasks, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = "@daily"
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		),
	)
	s := &Scheduler{
		cron:     c,
		tasks:    tasks,
		schedule: schedule,
		logger:   slog.Default().With("component", "scheduler"),
	}
	if _, err := c.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	if _, err := s.tasks.Run(context.Background(), "", 0); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
	}
}

// Start begins cron dispatch.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.schedule, "next_run", s.cron.Entries()[0].Next)
}

// Stop halts dispatch and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
