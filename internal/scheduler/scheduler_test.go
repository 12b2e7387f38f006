package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	noop := func(ctx context.Context) error { return nil }
	if err := s.AddJob("*/5 * * * *", "five", noop); err != nil {
		t.Errorf("expected no error for a cron expression, got %v", err)
	}
	if err := s.AddJob("@every 15m", "descriptor", noop); err != nil {
		t.Errorf("expected no error for a descriptor, got %v", err)
	}
	if err := s.AddJob("not a schedule", "bad", noop); err == nil {
		t.Error("expected an error for an invalid expression")
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler(WithJobTimeout(time.Second))
	var runs atomic.Int32
	done := make(chan struct{}, 1)
	err := s.AddJob("@every 1s", "tick", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context should carry the timeout")
		}
		runs.Add(1)
		select {
		case done <- struct{}{}:
		default:
		}
		return errors.New("failures are logged, not fatal")
	})
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
	s.Stop()
	if runs.Load() < 1 {
		t.Errorf("expected at least one run, got %d", runs.Load())
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := NewScheduler()
	started := make(chan struct{})
	var once sync.Once
	err := s.AddJob("@every 1s", "slow", func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the running job")
	}
}
