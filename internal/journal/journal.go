// Package journal is an optional, logging-class record of task executions.
// The scheduler never reads it back; disabling it changes nothing about when
// or how tasks run.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"chrond/internal/config"
	logx "chrond/pkg/logx"
)

var ErrDisabled = errors.New("journal disabled")

// Entry records one finished execution. Keep it compact and schema-stable.
type Entry struct {
	At         time.Time `json:"at"`
	Task       string    `json:"task"`
	Command    string    `json:"command"`
	DurationMS int64     `json:"duration_ms"`
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Error      string    `json:"error,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
}

// Recorder is the persistence API for run entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

// Open initializes the configured journal backend.
// It returns (nil, nil) when the journal is disabled.
func Open(cfg *config.JournalConfig, log logx.Logger) (Recorder, error) {
	if cfg == nil {
		return nil, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown journal driver: " + driver)
	}
}
