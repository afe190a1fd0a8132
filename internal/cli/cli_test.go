package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chrond/internal/config"
	"chrond/internal/journal"
	"chrond/internal/schedule"
	"chrond/pkg/logx"
)

// CLI flags live in package vars, so commands run sequentially here.

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	if stdin != "" {
		root.SetIn(strings.NewReader(stdin))
	}
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `{
  "tasks": [
    {"name": "hello", "cron_schedule": "0 30 9 * * 1-5", "command": "/bin/echo", "args": ["hi"]}
  ]
}`

func TestCheckCommand(t *testing.T) {
	path := writeConfig(t, t.TempDir(), minimalConfig)

	if _, err := execute(t, "", "check", "--config", path); err != nil {
		t.Fatalf("check on valid config: %v", err)
	}

	bad := writeConfig(t, t.TempDir(), `{"tasks": [{"name": "x", "cron_schedule": "* * *", "command": "/bin/true"}]}`)
	if _, err := execute(t, "", "check", "--config", bad); err == nil {
		t.Fatal("check accepted malformed schedule")
	}

	if _, err := execute(t, "", "check", "--config", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("check accepted missing config file")
	}
}

func TestListCommand(t *testing.T) {
	path := writeConfig(t, t.TempDir(), minimalConfig)
	if _, err := execute(t, "", "list", "--config", path); err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	out, err := execute(t, "", "init", "--config", path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "Successfully created") {
		t.Fatalf("init output = %q", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if string(data) != config.Sample {
		t.Fatal("init did not write the sample config")
	}

	// Declining the overwrite prompt keeps the file.
	if err := os.WriteFile(path, []byte(minimalConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "n\n", "init", "--config", path)
	if err != nil {
		t.Fatalf("init decline: %v", err)
	}
	if !strings.Contains(out, "cancelled") {
		t.Fatalf("init decline output = %q", out)
	}
	data, _ = os.ReadFile(path)
	if string(data) != minimalConfig {
		t.Fatal("declined init still overwrote the file")
	}

	// Confirming overwrites.
	if _, err := execute(t, "y\n", "init", "--config", path); err != nil {
		t.Fatalf("init overwrite: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != config.Sample {
		t.Fatal("confirmed init did not overwrite the file")
	}
}

func TestExecCommand(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran.txt")
	path := writeConfig(t, dir, fmt.Sprintf(`{
  "tasks": [
    {"name": "toucher", "cron_schedule": "0 0 0 1 1 *", "command": "/bin/sh", "args": ["-c", "echo done > %s"]},
    {"name": "failer", "cron_schedule": "0 0 0 1 1 *", "command": "/bin/sh", "args": ["-c", "exit 3"]}
  ]
}`, marker))

	if _, err := execute(t, "", "exec", "toucher", "--config", path); err != nil {
		t.Fatalf("exec toucher: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("task did not run: %v", err)
	}

	_, err := execute(t, "", "exec", "failer", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "exited with status 3") {
		t.Fatalf("exec failer error = %v", err)
	}

	_, err = execute(t, "", "exec", "nonesuch", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "toucher") {
		t.Fatalf("unknown task error should list available tasks, got %v", err)
	}
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "runs.jsonl")
	path := writeConfig(t, dir, fmt.Sprintf(`{
  "tasks": [
    {"name": "hello", "cron_schedule": "* * * * * *", "command": "/bin/true"}
  ],
  "journal": {"driver": "file", "path": %q}
}`, journalPath))

	// Journal disabled entirely.
	noJournal := writeConfig(t, t.TempDir(), minimalConfig)
	if _, err := execute(t, "", "history", "--config", noJournal); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("history without journal = %v", err)
	}

	// Empty journal file is fine.
	if _, err := execute(t, "", "history", "--config", path); err != nil {
		t.Fatalf("history on empty journal: %v", err)
	}

	rec, err := journal.Open(&config.JournalConfig{Driver: "file", Path: journalPath}, logx.Nop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := rec.Record(context.Background(), journal.Entry{At: time.Now(), Task: "hello", ExitCode: 0, DurationMS: 12}); err != nil {
		t.Fatalf("record: %v", err)
	}
	rec.Close()

	if _, err := execute(t, "", "history", "--config", path, "-n", "5"); err != nil {
		t.Fatalf("history with entries: %v", err)
	}
}

func TestNextFire(t *testing.T) {
	now := time.Date(2026, 8, 26, 8, 0, 0, 0, time.Local)

	weekday := config.Task{Schedule: schedule.MustParse("0 30 9 * * 1-5")}
	got := nextFire(weekday, now)
	if strings.Contains(got, "never") || strings.Contains(got, "error") {
		t.Fatalf("nextFire(weekday) = %q", got)
	}

	past := config.Task{Schedule: schedule.MustParse("0 0 0 1 1 * 2020")}
	if got := nextFire(past, now); !strings.Contains(got, "never") {
		t.Fatalf("nextFire(past year) = %q, want never", got)
	}
}

func TestEntryNote(t *testing.T) {
	tests := []struct {
		name string
		e    journal.Entry
		want string
	}{
		{"ok", journal.Entry{}, "ok"},
		{"exit", journal.Entry{ExitCode: 2}, "failed"},
		{"timeout", journal.Entry{TimedOut: true}, "timed out"},
		{"spawn", journal.Entry{Error: "no such file"}, "no such file"},
	}
	for _, tt := range tests {
		if got := entryNote(tt.e); got != tt.want {
			t.Errorf("%s: entryNote = %q, want %q", tt.name, got, tt.want)
		}
	}
}
