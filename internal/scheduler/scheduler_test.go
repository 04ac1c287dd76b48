package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/testutil"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(testutil.Logger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func noop(context.Context) error { return nil }

func TestAddJobReplacesExisting(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.AddJob("x", time.Minute, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("x", 2*time.Minute, noop); err != nil {
		t.Fatal(err)
	}

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want exactly one", len(jobs))
	}
	if jobs[0].Interval != 2*time.Minute {
		t.Errorf("interval = %v, want the replacement's", jobs[0].Interval)
	}
	if got := len(s.cron.Entries()); got != 1 {
		t.Errorf("cron entries = %d, want 1", got)
	}
}

func TestRemoveJobMissingIsAlreadyDisabled(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.RemoveJob("ghost"); !errors.Is(err, apperr.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
	if err := s.AddJob("x", time.Minute, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob("x"); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	if _, ok := s.GetJob("x"); ok {
		t.Error("job should be gone")
	}
	if err := s.RemoveJob("x"); !errors.Is(err, apperr.ErrJobNotFound) {
		t.Errorf("second remove err = %v", err)
	}
}

func TestAddJobValidation(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.AddJob("", time.Minute, noop); err == nil {
		t.Error("empty name should fail")
	}
	if err := s.AddJob("x", 10*time.Millisecond, noop); err == nil {
		t.Error("sub-second interval should fail")
	}
	if err := s.AddJob("x", time.Minute, nil); err == nil {
		t.Error("nil handler should fail")
	}
}

func TestPanickingPassKeepsJob(t *testing.T) {
	s := newTestScheduler(t)
	var calls atomic.Int32
	err := s.AddJob("boom", time.Second, func(context.Context) error {
		calls.Add(1)
		panic("pass exploded")
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return calls.Load() >= 2
	}, "panicking job should keep firing")
	if _, ok := s.GetJob("boom"); !ok {
		t.Error("panicking job must stay registered")
	}
}

func TestFailedPassRecorded(t *testing.T) {
	s := newTestScheduler(t)
	err := s.AddJob("fail", time.Second, func(context.Context) error {
		return errors.New("marketplace down")
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	testutil.Eventually(t, 4*time.Second, 50*time.Millisecond, func() bool {
		j, ok := s.GetJob("fail")
		return ok && j.Runs >= 1
	}, "job should run")
	j, _ := s.GetJob("fail")
	if j.LastError != "marketplace down" {
		t.Errorf("LastError = %q", j.LastError)
	}
	if j.NextRun.IsZero() {
		t.Error("NextRun should be set while running")
	}
}

func TestRemoveJobCancelsInFlightPass(t *testing.T) {
	s := newTestScheduler(t)
	started := make(chan struct{}, 1)
	stopped := make(chan struct{})
	err := s.AddJob("long", time.Second, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("pass never started")
	}
	if err := s.RemoveJob("long"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not observe cancellation")
	}
}

func TestStopWaitsForPasses(t *testing.T) {
	s := New(testutil.Logger())
	var finished atomic.Bool
	started := make(chan struct{}, 1)
	err := s.AddJob("slow", time.Second, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("pass never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Error("Stop returned before the in-flight pass finished")
	}
	if len(s.Jobs()) != 0 {
		t.Error("Stop should clear the registry")
	}
}
