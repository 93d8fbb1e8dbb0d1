package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestTasksRunIndependently(t *testing.T) {
	s := New(nil)
	var fast, slow atomic.Int32
	s.Add(Task{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) { fast.Add(1) }})
	s.Add(Task{Name: "slow", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) {
		slow.Add(1)
		<-ctx.Done()
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return fast.Load() >= 3 && slow.Load() == 1 })
	s.Stop()
}

func TestPanicDoesNotStopTask(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	s.Add(Task{Name: "flaky", Interval: 5 * time.Millisecond, Run: func(context.Context) {
		if runs.Add(1) == 1 {
			panic("boom")
		}
	}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() >= 3 })
	s.Stop()
}

func TestStopHaltsTasks(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	s.Add(Task{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) { runs.Add(1) }})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("second start should fail")
	}
	waitFor(t, func() bool { return runs.Load() >= 1 })
	s.Stop()
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("task ran after Stop")
	}
	s.Stop()
}

func TestInvalidTaskRejected(t *testing.T) {
	s := New(nil)
	s.Add(Task{Name: "broken"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected validation error")
	}
}
