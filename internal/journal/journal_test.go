package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chrond/internal/config"
	logx "chrond/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, cfg := range []*config.JournalConfig{
		nil,
		{Driver: ""},
		{Driver: "none"},
		{Driver: "  NONE  "},
	} {
		rec, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%+v): %v", cfg, err)
		}
		if rec != nil {
			t.Fatalf("Open(%+v) returned a recorder for a disabled journal", cfg)
		}
	}

	if _, err := Open(&config.JournalConfig{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(&config.JournalConfig{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal", "runs.jsonl")
	rec, err := Open(&config.JournalConfig{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rec.Close()

	ctx := context.Background()
	base := time.Date(2026, time.May, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := Entry{
			At:         base.Add(time.Duration(i) * time.Minute),
			Task:       fmt.Sprintf("task-%d", i),
			Command:    "echo",
			DurationMS: int64(i * 10),
			ExitCode:   i % 2,
			TimedOut:   i == 4,
			Error:      "",
		}
		if err := rec.Record(ctx, e); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}

	got, err := rec.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent = %d entries, want 3", len(got))
	}
	if got[0].Task != "task-2" || got[2].Task != "task-4" {
		t.Fatalf("wrong window: %q .. %q", got[0].Task, got[2].Task)
	}
	if !got[2].TimedOut || !got[0].At.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("fields lost: %+v", got[2])
	}

	all, err := rec.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("Recent(100): %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Recent(100) = %d entries, want 5", len(all))
	}
	if none, err := rec.Recent(ctx, 0); err != nil || none != nil {
		t.Fatalf("Recent(0) = %v, %v", none, err)
	}
}

func TestFileRecentSkipsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.jsonl")
	rec, err := Open(&config.JournalConfig{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rec.Close()

	ctx := context.Background()
	if err := rec.Record(ctx, Entry{Task: "a", Command: "echo"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// Simulate a torn write from a crash mid-append.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("{\"task\": \"b\", trunc\n"); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	_ = f.Close()
	if err := rec.Record(ctx, Entry{Task: "c", Command: "echo"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := rec.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Task != "a" || got[1].Task != "c" {
		t.Fatalf("entries = %+v", got)
	}
}

func TestFileClosedRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.jsonl")
	rec, err := Open(&config.JournalConfig{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := rec.Record(context.Background(), Entry{Task: "x"}); err == nil {
		t.Fatal("Record on closed journal succeeded")
	}
}
