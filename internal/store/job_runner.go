package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JobHandler runs one job. A returned error schedules a retry.
type JobHandler func(ctx context.Context, payload string) error

// JobRunner claims due jobs from a JobRepo and dispatches them to the handler
// registered for their kind.
type JobRunner struct {
	repo           JobRepo
	mu             sync.RWMutex
	handlers       map[string]JobHandler
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	backoff        func(attempt int) time.Duration
	now            func() time.Time
}

// JobRunnerOption configures a JobRunner.
type JobRunnerOption func(*JobRunner)

// WithPollInterval sets how often the queue is polled.
func WithPollInterval(d time.Duration) JobRunnerOption {
	return func(r *JobRunner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithStaleThreshold sets how long a claimed job may run before it is
// considered abandoned.
func WithStaleThreshold(d time.Duration) JobRunnerOption {
	return func(r *JobRunner) {
		if d > 0 {
			r.staleThreshold = d
		}
	}
}

// WithRetryBackoff sets the delay before a failed job is retried.
func WithRetryBackoff(backoff func(attempt int) time.Duration) JobRunnerOption {
	return func(r *JobRunner) { r.backoff = backoff }
}

// NewJobRunner creates a JobRunner on repo.
func NewJobRunner(repo JobRepo, opts ...JobRunnerOption) *JobRunner {
	r := &JobRunner{
		repo:           repo,
		handlers:       make(map[string]JobHandler),
		pollInterval:   2 * time.Second,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		backoff:        exponentialBackoff,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// exponentialBackoff waits 30s, 60s, 120s, ... after successive failures.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(30*(1<<(attempt-1))) * time.Second
}

// Register sets the handler of a job kind.
func (r *JobRunner) Register(kind string, handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
	slog.Debug("JobRunner.Register", "kind", kind)
}

// RecoverStaleJobs requeues jobs that were running when a previous process
// stopped. Call it once before Run.
func (r *JobRunner) RecoverStaleJobs() error {
	n, err := r.repo.RequeueStaleRunningJobs(r.now().Add(-r.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: requeued stale jobs", "count", n)
	}
	return nil
}

// Run polls the queue until ctx is cancelled.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: starting job runner", "pollInterval", r.pollInterval)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("JobRunner.Run: stopping")
			return
		case <-ticker.C:
			r.RunDue(ctx)
		}
	}
}

// RunDue claims the jobs due now, runs them in order and returns how many ran.
func (r *JobRunner) RunDue(ctx context.Context) int {
	now := r.now()
	jobs, err := r.repo.ClaimDueJobs(now, r.claimLimit)
	if err != nil {
		slog.Error("JobRunner.RunDue: claim failed", "error", err)
		return 0
	}
	for _, job := range jobs {
		r.dispatch(ctx, job, now)
	}
	return len(jobs)
}

func (r *JobRunner) dispatch(ctx context.Context, job Job, now time.Time) {
	r.mu.RLock()
	handler, ok := r.handlers[job.Kind]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("JobRunner.dispatch: no handler for job kind", "kind", job.Kind, "id", job.ID)
		if err := r.repo.FailJob(job.ID, "no handler registered for kind: "+job.Kind, now.Add(time.Minute)); err != nil {
			slog.Error("JobRunner.dispatch: fail job error", "id", job.ID, "error", err)
		}
		return
	}

	slog.Debug("JobRunner.dispatch: executing job", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
	if err := handler(ctx, job.Payload); err != nil {
		slog.Error("JobRunner.dispatch: job execution failed", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", err)
		if err := r.repo.FailJob(job.ID, err.Error(), now.Add(r.backoff(job.Attempt))); err != nil {
			slog.Error("JobRunner.dispatch: fail job error", "id", job.ID, "error", err)
		}
		return
	}
	if err := r.repo.CompleteJob(job.ID); err != nil {
		slog.Error("JobRunner.dispatch: complete job error", "id", job.ID, "error", err)
		return
	}
	slog.Debug("JobRunner.dispatch: job completed", "id", job.ID, "kind", job.Kind)
}
