package debounce_test

import (
	"sync/atomic"
	"testing"
	"time"

	"movedit/backend/internal/debounce"
	"movedit/backend/internal/debounce/debouncetest"
)

func TestScheduleReplacesPendingCall(t *testing.T) {
	sched := debouncetest.New()
	task := debounce.New(sched, time.Second)

	var calls []string
	task.Schedule(func() { calls = append(calls, "first") })
	sched.Advance(500 * time.Millisecond)
	task.Schedule(func() { calls = append(calls, "second") })
	sched.Advance(500 * time.Millisecond)

	if len(calls) != 0 {
		t.Fatalf("expected no call before the delay settles, got %v", calls)
	}

	sched.Advance(500 * time.Millisecond)
	if len(calls) != 1 || calls[0] != "second" {
		t.Fatalf("expected only the second call, got %v", calls)
	}
	if task.Pending() {
		t.Fatalf("expected task to be idle after firing")
	}
}

func TestCancelDropsPendingCall(t *testing.T) {
	sched := debouncetest.New()
	task := debounce.New(sched, time.Second)

	fired := false
	task.Schedule(func() { fired = true })
	if !task.Pending() {
		t.Fatalf("expected pending call")
	}
	task.Cancel()
	sched.Advance(2 * time.Second)

	if fired {
		t.Fatalf("cancelled call fired")
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected scheduler to have no live timers, got %d", sched.Pending())
	}
}

func TestRealSchedulerFires(t *testing.T) {
	task := debounce.New(nil, 5*time.Millisecond)

	var count atomic.Int32
	done := make(chan struct{})
	task.Schedule(func() { count.Add(1) })
	task.Schedule(func() {
		count.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}
	time.Sleep(20 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Fatalf("expected exactly one call, got %d", got)
	}
}
