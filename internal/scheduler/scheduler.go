// Package scheduler runs InsureGuide's periodic maintenance jobs, such as
// removing idle sessions, on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one run of a maintenance task.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron schedules. Runs of one job never overlap.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJobTimeout bounds each run of a job.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// NewScheduler creates and starts a scheduler. Expressions use the standard
// five cron fields or descriptors such as "@every 15m".
func NewScheduler(opts ...Option) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron.Start()
	return s
}

// AddJob schedules job under name. It returns an error if the expression is
// invalid.
func (s *Scheduler) AddJob(expr, name string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	slog.Info("Scheduler.AddJob: job scheduled", "job", name, "schedule", expr)
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		slog.Error("Scheduler.run: job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	slog.Debug("Scheduler.run: job finished", "job", name, "duration", time.Since(start))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
}
