// Package executor runs task commands as detached child processes and fans
// completed results out to logging-class sinks.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"chrond/internal/config"
	logx "chrond/pkg/logx"
)

const (
	defaultHistorySize = 200
	defaultMaxOutput   = 32 * 1024
	defaultWaitDelay   = 5 * time.Second
)

// Result describes one finished execution. Results are transient: they feed
// logs, the in-memory history ring and optional sinks, and are never read
// back to drive scheduling or retries.
type Result struct {
	Task      string        `json:"task"`
	Command   string        `json:"command"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	ExitCode  int           `json:"exit_code"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Stdout    string        `json:"stdout,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
	Err       error         `json:"-"`
}

// Failed reports whether the execution should be treated as a failure.
func (r Result) Failed() bool { return r.Err != nil || r.TimedOut || r.ExitCode != 0 }

// Sink consumes completed results. Implementations must return quickly;
// anything slow belongs behind the sink's own queue.
type Sink interface {
	Consume(task config.Task, res Result)
}

// Options tune the executor. Zero values pick the defaults above.
type Options struct {
	HistorySize    int
	MaxOutputBytes int
	WaitDelay      time.Duration
}

// Executor spawns commands without shell interpretation. Callers that need
// pipes or expansion route through `sh -c` explicitly in their task config.
type Executor struct {
	log   logx.Logger
	sinks []Sink

	historySize int
	maxOutput   int
	waitDelay   time.Duration

	hmu     sync.Mutex
	history []Result

	wg sync.WaitGroup
}

func New(log logx.Logger, opts Options, sinks ...Sink) *Executor {
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutput
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = defaultWaitDelay
	}
	return &Executor{
		log:         log,
		sinks:       sinks,
		historySize: opts.HistorySize,
		maxOutput:   opts.MaxOutputBytes,
		waitDelay:   opts.WaitDelay,
	}
}

// Dispatch runs the task asynchronously and returns immediately. The
// execution context derives from context.Background(), not from the caller:
// schedule cutover and daemon shutdown never kill an in-flight child.
func (e *Executor) Dispatch(task config.Task) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("panic in execution",
					logx.String("task", task.Name),
					logx.Any("panic", r))
			}
		}()
		e.Run(context.Background(), task)
	}()
}

// Drain waits for in-flight executions to finish handing off their results.
// It does not bound the wait; pair it with a select when that matters.
func (e *Executor) Drain() { e.wg.Wait() }

// Run executes the task synchronously and returns its result. The task's own
// timeout still applies underneath ctx.
func (e *Executor) Run(ctx context.Context, task config.Task) Result {
	log := e.log.With(logx.String("task", task.Name))
	res := Result{Task: task.Name, Command: task.Command, StartedAt: time.Now()}

	timeout, err := task.TimeoutDuration()
	if err != nil {
		res.Err = err
		res.ExitCode = -1
		return e.finish(log, task, res)
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, task.Command, task.Args...)
	if task.Workdir != "" {
		cmd.Dir = task.Workdir
	}
	cmd.Env = os.Environ()
	for k, v := range task.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdout := &cappedBuffer{max: e.maxOutput}
	stderr := &cappedBuffer{max: e.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// A grandchild inheriting the pipes must not stall Wait after the
	// command itself is gone.
	cmd.WaitDelay = e.waitDelay

	log.Debug("command starting",
		logx.String("command", task.Command),
		logx.Strings("args", task.Args),
		logx.Duration("timeout", timeout))

	err = cmd.Run()
	res.Duration = time.Since(res.StartedAt)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			res.TimedOut = runCtx.Err() == context.DeadlineExceeded
		case errors.Is(err, exec.ErrWaitDelay):
			// Pipes outlived the process; the command itself exited.
			res.ExitCode = cmd.ProcessState.ExitCode()
			res.TimedOut = runCtx.Err() == context.DeadlineExceeded
		case runCtx.Err() == context.DeadlineExceeded:
			res.TimedOut = true
			res.ExitCode = -1
			res.Err = err
		default:
			// Spawn failure: missing binary, bad workdir, permissions.
			res.ExitCode = -1
			res.Err = err
		}
	}

	return e.finish(log, task, res)
}

// History returns a copy of the result ring, oldest first.
func (e *Executor) History() []Result {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	out := make([]Result, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Executor) finish(log logx.Logger, task config.Task, res Result) Result {
	switch {
	case res.Err != nil && !res.TimedOut:
		log.Error("command failed to run",
			logx.String("command", res.Command),
			logx.Err(res.Err),
			logx.Duration("dur", res.Duration))
	case res.TimedOut:
		log.Error("command timed out; killed",
			logx.String("command", res.Command),
			logx.Duration("dur", res.Duration),
			logx.String("stderr", strings.TrimSpace(res.Stderr)))
	case res.ExitCode != 0:
		log.Error("command failed",
			logx.Int("exit_code", res.ExitCode),
			logx.Duration("dur", res.Duration),
			logx.String("stderr", strings.TrimSpace(res.Stderr)))
	default:
		fields := []logx.Field{logx.Duration("dur", res.Duration)}
		if out := strings.TrimSpace(res.Stdout); out != "" {
			fields = append(fields, logx.String("stdout", out))
		}
		log.Info("command succeeded", fields...)
	}

	e.hmu.Lock()
	e.history = append(e.history, res)
	if len(e.history) > e.historySize {
		e.history = e.history[len(e.history)-e.historySize:]
	}
	e.hmu.Unlock()

	for _, s := range e.sinks {
		s.Consume(task, res)
	}
	return res
}

// cappedBuffer keeps the first max bytes and swallows the rest so a chatty
// child cannot balloon daemon memory. Write never reports a short count;
// os/exec's pipe copier treats that as an error.
type cappedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
