package config

import (
	"fmt"
	"strings"
	"time"

	"chrond/internal/schedule"
)

// Config is the full on-disk configuration. Exactly one Config is live at a
// time; reloads replace it wholesale, never mutate it.
type Config struct {
	Tasks []Task `json:"tasks"`

	Logging LoggingConfig  `json:"logging,omitempty"`
	Journal *JournalConfig `json:"journal,omitempty"`
	Notify  *NotifyConfig  `json:"notify,omitempty"`
}

// Task is one scheduled command. Immutable once decoded; the schedule is
// compiled during JSON decode so a malformed expression fails the whole
// config parse.
type Task struct {
	Name     string              `json:"name"`
	Schedule schedule.Expression `json:"cron_schedule"`
	Command  string              `json:"command"`
	Args     []string            `json:"args,omitempty"`

	// Timeout is a Go duration string (e.g. "30s", "5m"). Empty or "0s"
	// means the command may run unbounded.
	Timeout string `json:"timeout,omitempty"`

	// Workdir is the working directory for the command. Empty inherits the
	// daemon's.
	Workdir string `json:"workdir,omitempty"`

	// Env entries are appended to the daemon's environment.
	Env map[string]string `json:"env,omitempty"`

	OnFailure *FailureHook `json:"on_failure,omitempty"`
}

// FailureHook overrides the global failure notification target for one task.
type FailureHook struct {
	WebhookURL string `json:"webhook_url"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"` // nil defaults to true
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// ConsoleEnabled resolves the tri-state console flag.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// JournalConfig controls the optional run journal.
//
// Example:
//
//	"journal": { "driver": "file", "path": "/var/lib/chrond/journal" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifyConfig controls the failure webhook pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type NotifyConfig struct {
	WebhookURL string `json:"webhook_url,omitempty"` // global default; tasks may override
	QueueSize  int    `json:"queue_size,omitempty"`  // default 64
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default 1
	Timeout    string `json:"timeout,omitempty"`      // per-POST timeout, default "10s"
}

// Validate checks constraints the JSON decoder cannot express. It is wired as
// the Manager's validator so a bad reload is rejected before publish.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	for i := range c.Tasks {
		t := &c.Tasks[i]
		at := fmt.Sprintf("tasks[%d]", i)
		if strings.TrimSpace(t.Name) != "" {
			at = fmt.Sprintf("task %q", t.Name)
		}
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%s: name is required", at)
		}
		if t.Schedule.IsZero() {
			return fmt.Errorf("%s: cron_schedule is required", at)
		}
		if strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("%s: command is required", at)
		}
		if _, err := ParseDurationField(at+".timeout", t.Timeout); err != nil {
			return err
		}
		if t.OnFailure != nil && strings.TrimSpace(t.OnFailure.WebhookURL) == "" {
			return fmt.Errorf("%s: on_failure.webhook_url is required when on_failure is set", at)
		}
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path is required when logging.file.enabled")
	}
	if j := c.Journal; j != nil {
		switch strings.ToLower(strings.TrimSpace(j.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("journal.driver: unknown driver %q", j.Driver)
		}
		if d := strings.ToLower(strings.TrimSpace(j.Driver)); d != "" && d != "none" && strings.TrimSpace(j.Path) == "" {
			return fmt.Errorf("journal.path is required for driver %q", j.Driver)
		}
		if _, err := ParseDurationField("journal.busy_timeout", j.BusyTimeout); err != nil {
			return err
		}
	}
	if n := c.Notify; n != nil {
		if n.QueueSize < 0 {
			return fmt.Errorf("notify.queue_size must be >= 0")
		}
		if n.RatePerSec < 0 {
			return fmt.Errorf("notify.rate_per_sec must be >= 0")
		}
		if _, err := ParseDurationField("notify.timeout", n.Timeout); err != nil {
			return err
		}
	}
	return nil
}

// DuplicateTaskNames returns task names that appear more than once. Duplicates
// are legal (the name is a log correlation label) but worth a warning.
func (c *Config) DuplicateTaskNames() []string {
	counts := make(map[string]int, len(c.Tasks))
	for _, t := range c.Tasks {
		counts[t.Name]++
	}
	var dups []string
	for _, t := range c.Tasks {
		if counts[t.Name] > 1 {
			dups = append(dups, t.Name)
			counts[t.Name] = 0 // report each name once
		}
	}
	return dups
}

// TaskByName returns the first task with the given name.
func (c *Config) TaskByName(name string) (Task, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return Task{}, false
}

// TimeoutDuration parses the task timeout field. Zero means unbounded.
func (t Task) TimeoutDuration() (time.Duration, error) {
	return ParseDurationField("timeout", t.Timeout)
}
