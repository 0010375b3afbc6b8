// Package scheduler triggers notification cycles on a cron schedule when the
// process is not driven by an external scheduler.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"feedpush/internal/cycle"
)

// Runner executes one cycle.
type Runner interface {
	Run(ctx context.Context) (*cycle.Report, error)
}

// Scheduler runs cycles on a cron schedule. A tick that fires while the previous
// cycle is still running is skipped.
type Scheduler struct {
	runner Runner
	log    *slog.Logger
	spec   string
	sched  cron.Schedule
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a Scheduler for spec, e.g. "*/5 * * * *" or "@every 2m".
func New(runner Runner, spec string, log *slog.Logger) (*Scheduler, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Scheduler{runner: runner, log: log, spec: spec, sched: sched}, nil
}

// Run starts the scheduler, blocking until ctx is cancelled. It runs one cycle
// immediately, then follows the schedule. On return no cycle is running.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)

	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.sched, cron.FuncJob(func() { s.tick(ctx) }))
	c.Start()
	s.log.Info("scheduler started", "schedule", s.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep, err := s.runner.Run(ctx)
	if err != nil {
		s.log.Error("scheduled cycle", "error", err)
		return
	}
	sent, failed := rep.Totals()
	s.log.Debug("scheduled cycle finished", "run_id", rep.RunID, "sent", sent, "failed", failed)
}
