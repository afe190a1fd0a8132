// Package scheduler owns the running set: one timer-loop goroutine per task,
// torn down and rebuilt wholesale on config cutover.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chrond/internal/config"
	logx "chrond/pkg/logx"
)

// ErrAlreadyRunning is returned by Start when a running set is live. Callers
// replacing the schedule go through Swap.
var ErrAlreadyRunning = errors.New("scheduler: already running")

// Dispatcher starts one execution of a task. Dispatch must return without
// waiting for the execution to finish; a slow child process must never stall
// the timer loop that fired it.
type Dispatcher interface {
	Dispatch(task config.Task)
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(task config.Task)

func (f DispatchFunc) Dispatch(task config.Task) { f(task) }

// Scheduler drives task timer loops. All loops of a set share one parent
// context; StopAll cancels it and waits for every loop to confirm exit, so a
// set is destroyed exactly once and never fires after cutover begins.
type Scheduler struct {
	dispatch Dispatcher
	log      logx.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	running bool
	loops   int
}

func New(dispatch Dispatcher, log logx.Logger) *Scheduler {
	return &Scheduler{dispatch: dispatch, log: log}
}

// Running reports the number of live task loops.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.loops
}

// Start builds a fresh running set from tasks. Tasks whose schedule has no
// upcoming fire time are logged and skipped; everything else gets its own
// loop goroutine.
func (s *Scheduler) Start(tasks []config.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	loops := 0

	now := time.Now()
	for _, task := range tasks {
		next, err := task.Schedule.Next(now)
		if err != nil {
			s.log.Warn("task has no upcoming fire time; not scheduling",
				logx.String("task", task.Name),
				logx.String("schedule", task.Schedule.String()),
				logx.Err(err))
			continue
		}
		s.log.Info("task scheduled",
			logx.String("task", task.Name),
			logx.String("schedule", task.Schedule.String()),
			logx.Time("next", next))

		task := task
		wg.Add(1)
		loops++
		go func() {
			defer wg.Done()
			s.runLoop(ctx, task)
		}()
	}

	s.cancel = cancel
	s.wg = wg
	s.running = true
	s.loops = loops
	return nil
}

// runLoop sleeps until the task's next fire time, dispatches, and repeats.
// Cancellation wins over a pending fire; a canceled loop never dispatches.
func (s *Scheduler) runLoop(ctx context.Context, task config.Task) {
	log := s.log.With(logx.String("task", task.Name))
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		if ctx.Err() != nil {
			return
		}
		now := time.Now()
		next, err := task.Schedule.Next(now)
		if err != nil {
			log.Warn("no upcoming fire time; stopping task loop", logx.Err(err))
			return
		}
		log.Debug("waiting for next fire",
			logx.Time("next", next),
			logx.Duration("in", next.Sub(now)))

		timer.Reset(next.Sub(now))
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			return
		case <-timer.C:
			s.dispatch.Dispatch(task)
		}
	}
}

// StopAll cancels every task loop concurrently and waits for confirmed exit,
// bounded by ctx. In-flight child processes are detached and unaffected.
func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, wg, loops := s.cancel, s.wg, s.loops
	s.cancel, s.wg, s.running, s.loops = nil, nil, false, 0
	s.mu.Unlock()

	start := time.Now()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("schedule stopped",
			logx.Int("tasks", loops),
			logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: waiting for %d task loops: %w", loops, ctx.Err())
	}
}

// Swap is the atomic cutover: stop the old set, then start the new one. No
// old loop fires after Swap begins; no new loop fires before it completes.
// The new set starts even when StopAll gives up waiting for confirmation:
// the old loops are already cancelled and exit at their next select, so the
// daemon never idles on an empty schedule.
func (s *Scheduler) Swap(ctx context.Context, tasks []config.Task) error {
	stopErr := s.StopAll(ctx)
	if err := s.Start(tasks); err != nil {
		return err
	}
	return stopErr
}
