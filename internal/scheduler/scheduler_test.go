package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsEachTaskIndependently(t *testing.T) {
	var countA, countB atomic.Int64

	s := New([]Task{
		{Name: "a", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			countA.Add(1)
			return nil
		}},
		{Name: "b", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			countB.Add(1)
			return nil
		}},
	})

	ctx := context.Background()
	s.Start(ctx)
	time.Sleep(55 * time.Millisecond)
	s.Stop()

	if countA.Load() < 2 || countB.Load() < 2 {
		t.Fatalf("expected both tasks to have run multiple times, got a=%d b=%d", countA.Load(), countB.Load())
	}
}

func TestScheduler_TaskErrorDoesNotStopOtherTasks(t *testing.T) {
	var failingRuns, healthyRuns atomic.Int64

	s := New([]Task{
		{Name: "failing", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			failingRuns.Add(1)
			return errors.New("boom")
		}},
		{Name: "healthy", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			healthyRuns.Add(1)
			return nil
		}},
	})

	s.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	s.Stop()

	if failingRuns.Load() < 2 {
		t.Fatalf("expected the failing task to keep being retried on schedule, got %d runs", failingRuns.Load())
	}
	if healthyRuns.Load() < 2 {
		t.Fatalf("expected the healthy task unaffected by the failing one, got %d runs", healthyRuns.Load())
	}
}

func TestScheduler_TaskPanicDoesNotStopOtherTasks(t *testing.T) {
	var panicRuns, healthyRuns atomic.Int64

	s := New([]Task{
		{Name: "panicker", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			panicRuns.Add(1)
			panic("boom")
		}},
		{Name: "healthy", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			healthyRuns.Add(1)
			return nil
		}},
	})

	s.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	s.Stop()

	if panicRuns.Load() < 2 {
		t.Fatalf("expected the panicking task to keep being scheduled, got %d runs", panicRuns.Load())
	}
	if healthyRuns.Load() < 2 {
		t.Fatalf("expected the healthy task unaffected by the panicking one, got %d runs", healthyRuns.Load())
	}
}

func TestScheduler_StopHaltsAllTasks(t *testing.T) {
	var count atomic.Int64

	s := New([]Task{
		{Name: "a", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
			count.Add(1)
			return nil
		}},
	})

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	afterStop := count.Load()
	time.Sleep(30 * time.Millisecond)
	if count.Load() != afterStop {
		t.Fatalf("expected no further runs after Stop, went from %d to %d", afterStop, count.Load())
	}
}
