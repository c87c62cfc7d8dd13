// Package debounce provides a cancellable delayed task.
package debounce

import (
	"sync"
	"time"
)

// Timer is a scheduled call that can be stopped before it fires.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealScheduler schedules on the runtime timer.
type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Task holds at most one pending call. Scheduling replaces the pending one.
type Task struct {
	mu        sync.Mutex
	scheduler Scheduler
	delay     time.Duration
	timer     Timer
	gen       uint64
}

func New(scheduler Scheduler, delay time.Duration) *Task {
	if scheduler == nil {
		scheduler = RealScheduler{}
	}
	return &Task{scheduler: scheduler, delay: delay}
}

func (t *Task) Delay() time.Duration {
	return t.delay
}

// Schedule cancels any pending call and runs fn after the task delay.
func (t *Task) Schedule(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.scheduler.AfterFunc(t.delay, func() {
		// A timer that already fired cannot be stopped; the generation check
		// drops it if it was replaced in the meantime.
		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending call, if any.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Pending reports whether a call is scheduled and has not fired.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
