package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chrond/internal/config"
	"chrond/internal/schedule"
	logx "chrond/pkg/logx"
)

type countingDispatcher struct {
	mu     sync.Mutex
	counts map[string]int
	hook   func(task config.Task)
}

func (d *countingDispatcher) Dispatch(task config.Task) {
	if d.hook != nil {
		d.hook(task)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.counts == nil {
		d.counts = make(map[string]int)
	}
	d.counts[task.Name]++
}

func (d *countingDispatcher) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[name]
}

func mkTask(name, expr string) config.Task {
	return config.Task{Name: name, Schedule: schedule.MustParse(expr), Command: "true"}
}

func waitForCount(t *testing.T, d *countingDispatcher, name string, want int, deadline time.Duration) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if d.count(name) >= want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("task %q fired %d times, want >= %d within %v", name, d.count(name), want, deadline)
}

func stopAll(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
}

func TestStartDispatchesOnSchedule(t *testing.T) {
	d := &countingDispatcher{}
	s := New(d, logx.Nop())

	if err := s.Start([]config.Task{mkTask("tick", "* * * * * *")}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopAll(t, s)

	waitForCount(t, d, "tick", 2, 5*time.Second)
	if got := s.Running(); got != 1 {
		t.Fatalf("Running = %d, want 1", got)
	}
}

func TestStartWhileRunning(t *testing.T) {
	s := New(&countingDispatcher{}, logx.Nop())
	if err := s.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopAll(t, s)

	if err := s.Start(nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestTaskIndependence(t *testing.T) {
	// A dispatcher that stalls one task's loop must not delay the other
	// task's loop: each task owns its own goroutine.
	release := make(chan struct{})
	d := &countingDispatcher{hook: func(task config.Task) {
		if task.Name == "slow" {
			<-release
		}
	}}
	s := New(d, logx.Nop())

	tasks := []config.Task{
		mkTask("slow", "* * * * * *"),
		mkTask("fast", "* * * * * *"),
	}
	if err := s.Start(tasks); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(release)
		stopAll(t, s)
	}()

	waitForCount(t, d, "fast", 3, 6*time.Second)
	if got := d.count("slow"); got > 1 {
		t.Fatalf("slow fired %d times while blocked, want at most 1", got)
	}
}

func TestStopAllPreventsPendingFire(t *testing.T) {
	d := &countingDispatcher{}
	s := New(d, logx.Nop())

	// Next fire is years away; the loop must park on its timer and exit
	// promptly on cancellation without dispatching.
	if err := s.Start([]config.Task{mkTask("leap", "0 0 0 29 2 *")}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Running(); got != 1 {
		t.Fatalf("Running = %d, want 1", got)
	}

	stopAll(t, s)
	if got := s.Running(); got != 0 {
		t.Fatalf("Running after stop = %d, want 0", got)
	}
	if got := d.count("leap"); got != 0 {
		t.Fatalf("task fired %d times, want 0", got)
	}

	// Idempotent: stopping a stopped scheduler is a no-op.
	stopAll(t, s)
}

func TestStopAllBoundedWait(t *testing.T) {
	// A dispatcher stuck inside Dispatch holds its loop hostage; StopAll
	// must give up when its context expires instead of hanging.
	started := make(chan struct{})
	release := make(chan struct{})
	d := &countingDispatcher{hook: func(config.Task) {
		close(started)
		<-release
	}}
	s := New(d, logx.Nop())

	if err := s.Start([]config.Task{mkTask("stuck", "* * * * * *")}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never dispatched")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.StopAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("StopAll = %v, want deadline exceeded", err)
	}
	close(release)
}

func TestSwapCutover(t *testing.T) {
	d := &countingDispatcher{}
	s := New(d, logx.Nop())

	if err := s.Start([]config.Task{mkTask("old", "* * * * * *")}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForCount(t, d, "old", 1, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Swap(ctx, []config.Task{mkTask("new", "* * * * * *")}); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	defer stopAll(t, s)

	// Swap's join guarantees no old loop survives cutover; the old count
	// must be frozen from here on.
	frozen := d.count("old")
	waitForCount(t, d, "new", 2, 5*time.Second)
	if got := d.count("old"); got != frozen {
		t.Fatalf("old task fired after cutover: %d -> %d", frozen, got)
	}
}

func TestSwapStartsNewSetAfterStopTimeout(t *testing.T) {
	// A dispatcher stuck inside Dispatch makes StopAll give up on its
	// deadline. The cutover must still bring the new set up rather than
	// leave the daemon with no schedule at all.
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	d := &countingDispatcher{hook: func(task config.Task) {
		if task.Name == "stuck" {
			once.Do(func() { close(started) })
			<-release
		}
	}}
	s := New(d, logx.Nop())

	if err := s.Start([]config.Task{mkTask("stuck", "* * * * * *")}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never dispatched")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := s.Swap(ctx, []config.Task{mkTask("fresh", "* * * * * *")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Swap = %v, want deadline exceeded", err)
	}
	defer func() {
		close(release)
		stopAll(t, s)
	}()

	if got := s.Running(); got != 1 {
		t.Fatalf("Running after partial cutover = %d, want 1", got)
	}
	waitForCount(t, d, "fresh", 2, 6*time.Second)
}

func TestNoUpcomingTaskSkipped(t *testing.T) {
	d := &countingDispatcher{}
	s := New(d, logx.Nop())

	tasks := []config.Task{
		mkTask("stale", "0 0 12 1 1 * 2020"),
		mkTask("live", "* * * * * *"),
	}
	if err := s.Start(tasks); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopAll(t, s)

	if got := s.Running(); got != 1 {
		t.Fatalf("Running = %d, want 1 (stale task skipped)", got)
	}
	waitForCount(t, d, "live", 1, 5*time.Second)
	if got := d.count("stale"); got != 0 {
		t.Fatalf("stale task fired %d times", got)
	}
}
