package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chrond/internal/config"
	"chrond/internal/executor"
	"chrond/internal/journal"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func waitForFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("file %s did not appear within %v", path, timeout)
}

func taskConfig(name, outPath string) string {
	return fmt.Sprintf(`{
  "tasks": [
    {
      "name": %q,
      "cron_schedule": "* * * * * *",
      "command": "/bin/sh",
      "args": ["-c", "echo fired >> %s"]
    }
  ],
  "logging": {"level": "error", "console": false}
}`, name, outPath)
}

func TestAppLifecycleAndReload(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	outA := filepath.Join(dir, "a.out")
	outB := filepath.Join(dir, "b.out")

	writeFile(t, cfgPath, taskConfig("writer-a", outA))

	app, err := New(cfgPath, false)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		app.Stop(stopCtx)
	})

	// First task fires within a second of startup.
	waitForFile(t, outA, 5*time.Second)

	// Rewrite the config; the watcher should debounce, validate, and swap.
	writeFile(t, cfgPath, taskConfig("writer-b", outB))
	waitForFile(t, outB, 5*time.Second)

	// The old task must be frozen after cutover.
	before, err := os.ReadFile(outA)
	if err != nil {
		t.Fatalf("read %s: %v", outA, err)
	}
	time.Sleep(2200 * time.Millisecond)
	after, err := os.ReadFile(outA)
	if err != nil {
		t.Fatalf("read %s: %v", outA, err)
	}
	if len(after) != len(before) {
		t.Fatalf("replaced task still firing: size %d -> %d", len(before), len(after))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestNewRejectsBrokenConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")

	if _, err := New(cfgPath, false); err == nil {
		t.Fatal("New() with missing config file succeeded")
	} else if !strings.Contains(err.Error(), cfgPath) {
		t.Fatalf("error %v does not name the resolved path", err)
	}

	writeFile(t, cfgPath, `{"tasks": [{"name": "x", "cron_schedule": "bad", "command": "/bin/true"}]}`)
	if _, err := New(cfgPath, false); err == nil {
		t.Fatal("New() with malformed schedule succeeded")
	}
}

func TestLogConfigVerboseOverride(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Logging: config.LoggingConfig{Level: "warn"}}
	if got := logConfig(cfg, false).Level; got != "warn" {
		t.Fatalf("Level = %q, want warn", got)
	}
	if got := logConfig(cfg, true).Level; got != "debug" {
		t.Fatalf("verbose Level = %q, want debug", got)
	}
	if !logConfig(cfg, false).Console {
		t.Fatal("console should default to enabled")
	}
}

type fakeRecorder struct {
	entries []journal.Entry
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, e journal.Entry) error {
	f.entries = append(f.entries, e)
	return f.err
}

func (f *fakeRecorder) Recent(context.Context, int) ([]journal.Entry, error) {
	return f.entries, nil
}

func (f *fakeRecorder) Close() error { return nil }

func TestJournalSinkMapsResult(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	sink := journalSink{rec: rec}

	started := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
	sink.Consume(config.Task{Name: "backup"}, executor.Result{
		Task:      "backup",
		Command:   "/usr/bin/rsync",
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
		ExitCode:  2,
		Stderr:    "permission denied",
		Err:       errors.New("exit status 2"),
	})

	if len(rec.entries) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(rec.entries))
	}
	e := rec.entries[0]
	if e.Task != "backup" || e.Command != "/usr/bin/rsync" {
		t.Fatalf("entry identity = %q %q", e.Task, e.Command)
	}
	if !e.At.Equal(started) {
		t.Fatalf("At = %v, want %v", e.At, started)
	}
	if e.DurationMS != 1500 {
		t.Fatalf("DurationMS = %d, want 1500", e.DurationMS)
	}
	if e.ExitCode != 2 || e.Error != "exit status 2" || e.Stderr != "permission denied" {
		t.Fatalf("failure fields = %+v", e)
	}
}
