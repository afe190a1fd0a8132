// Package daemon wires the config manager, scheduler, executor, and result
// sinks into one long-running service with live reload.
package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"chrond/internal/config"
	"chrond/internal/executor"
	"chrond/internal/journal"
	"chrond/internal/notify"
	"chrond/internal/scheduler"
	"chrond/pkg/logx"
)

const swapTimeout = 5 * time.Second

// App owns the full service graph. Built by New, driven by Start/Stop.
type App struct {
	cfgm    *config.Manager
	sup     *Supervisor
	verbose bool

	log  logx.Logger
	logs *logx.Service

	exec  *executor.Executor
	sched *scheduler.Scheduler
	rec   journal.Recorder
	notif *notify.Notifier
}

// New loads and validates the config at path and builds the service graph.
// Errors here are fatal: the daemon refuses to start on a broken config and
// reports the resolved path it tried.
func New(path string, verbose bool) (*App, error) {
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", cfgm.Path(), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgm.Path(), err)
	}

	logs, log := logx.New(logConfig(cfg, verbose))
	a := &App{
		cfgm:    cfgm,
		verbose: verbose,
		log:     log.With(logx.String("comp", "daemon")),
		logs:    logs,
	}

	for _, name := range cfg.DuplicateTaskNames() {
		a.log.Warn("duplicate task name; log lines for it are ambiguous", logx.String("task", name))
	}

	rec, err := journal.Open(cfg.Journal, log.With(logx.String("comp", "journal")))
	if err != nil {
		logs.Close()
		return nil, err
	}
	a.rec = rec

	notif, err := notify.New(cfg.Notify, log.With(logx.String("comp", "notify")))
	if err != nil {
		if rec != nil {
			rec.Close()
		}
		logs.Close()
		return nil, err
	}
	a.notif = notif

	sinks := make([]executor.Sink, 0, 2)
	if rec != nil {
		sinks = append(sinks, NewJournalSink(rec, a.log))
	}
	sinks = append(sinks, notif)

	a.exec = executor.New(log.With(logx.String("comp", "executor")), executor.Options{}, sinks...)
	a.sched = scheduler.New(a.exec, log.With(logx.String("comp", "scheduler")))
	return a, nil
}

// Start brings up the schedule and the watch/reload loops. It returns once
// everything is running; the caller owns ctx and decides when to Stop.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	// Transactional reload: a rewritten file must pass full validation
	// before it replaces the live config.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	cfg := a.cfgm.Get()
	if err := a.sched.Start(cfg.Tasks); err != nil {
		return err
	}
	a.log.Info("daemon started",
		logx.Int("tasks", len(cfg.Tasks)),
		logx.String("config", a.cfgm.Path()))

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startWatchdog()
	if sent, err := sd.SdNotify(false, sd.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify: ready")
	}
	return nil
}

// Done is closed when any supervised loop fails hard (watcher gave up, etc.).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// applyReload pushes a validated config into the running services. Logging
// first so later steps report at the new level; schedule cutover last.
func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if changed("logging") {
		a.logs.Apply(logConfig(newCfg, a.verbose))
	}
	if changed("journal") {
		a.log.Warn("journal config changed; restart required for changes to take effect")
	}
	if changed("notify") {
		if err := a.notif.Apply(newCfg.Notify); err != nil {
			a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
		}
	}
	if changed("tasks") {
		for _, name := range newCfg.DuplicateTaskNames() {
			a.log.Warn("duplicate task name; log lines for it are ambiguous", logx.String("task", name))
		}
		swapCtx, cancel := context.WithTimeout(ctx, swapTimeout)
		err := a.sched.Swap(swapCtx, newCfg.Tasks)
		cancel()
		if err != nil {
			// The new set is live regardless; the old, cancelled loops
			// were merely slow to confirm their exit.
			a.log.Warn("schedule cutover: old task loops slow to exit", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}

// Stop shuts the daemon down in dependency order: no new fires, then a
// bounded drain of in-flight work and sinks. Commands still running when the
// process exits keep running on their own; they were started detached.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { return a.sched.StopAll(c) })
	// Quick commands get their results recorded; long-running ones are left
	// behind deliberately and keep running after exit.
	step("executor", 3*time.Second, func(context.Context) error { a.exec.Drain(); return nil })
	step("notify", 2*time.Second, func(c context.Context) error { return a.notif.Close(c) })
	step("journal", time.Second, func(context.Context) error {
		if a.rec != nil {
			return a.rec.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// startWatchdog pings systemd's watchdog when WatchdogSec is set on the unit.
func (a *App) startWatchdog() {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.sup.Go0("sd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)
			}
		}
	})
	a.log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
}

func logConfig(cfg *config.Config, verbose bool) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if verbose {
		lc.Level = "debug"
	}
	return lc
}

// journalSink bridges executor results into the run journal. Writes get a
// short budget so a slow disk only delays the one finished run.
type journalSink struct {
	rec journal.Recorder
	log logx.Logger
}

// NewJournalSink adapts a journal recorder into an executor sink. Shared
// with `chrond exec`, which records manual runs the same way.
func NewJournalSink(rec journal.Recorder, log logx.Logger) executor.Sink {
	return journalSink{rec: rec, log: log}
}

func (s journalSink) Consume(task config.Task, res executor.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	entry := journal.Entry{
		At:         res.StartedAt,
		Task:       res.Task,
		Command:    res.Command,
		DurationMS: res.Duration.Milliseconds(),
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		Stderr:     res.Stderr,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if err := s.rec.Record(ctx, entry); err != nil {
		s.log.Warn("failed to record run", logx.String("task", res.Task), logx.Err(err))
	}
}
