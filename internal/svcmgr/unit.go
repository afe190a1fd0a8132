// Package svcmgr installs and drives the chrond systemd unit. The real
// implementation talks to systemd over D-Bus and is linux-only; other
// platforms get an ErrUnsupported stub so the CLI can report cleanly.
package svcmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// UnitName is the systemd unit chrond installs and manages.
const UnitName = "chrond.service"

// Status is a snapshot of the unit as reported by systemd.
// LoadState "not-found" means the unit is not installed.
type Status struct {
	Name        string
	Active      string
	SubState    string
	LoadState   string
	Description string
	Enabled     bool
	MainPID     int
	ActiveSince time.Time // ActiveEnterTimestamp
	StateChange time.Time // StateChangeTimestamp
}

// Installed reports whether systemd knows about the unit at all.
func (s *Status) Installed() bool {
	return s != nil && s.LoadState != "" && s.LoadState != "not-found"
}

// UnitOptions describes the unit file to render at install time.
type UnitOptions struct {
	// ExecStart is the full command line, typically the resolved chrond
	// binary followed by "run" and an optional --config flag.
	ExecStart   string
	Description string
	User        bool
}

// RenderUnit produces the chrond unit file. Type=notify pairs with the
// daemon's sd_notify readiness handshake, and WatchdogSec with its
// keepalive ticker. Restart/RestartSec mirror an on-failure policy with a
// 10s delay.
func RenderUnit(opts UnitOptions) string {
	desc := strings.TrimSpace(opts.Description)
	if desc == "" {
		desc = "chrond scheduled command runner"
	}
	wantedBy := "multi-user.target"
	if opts.User {
		wantedBy = "default.target"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Unit]\n")
	fmt.Fprintf(&b, "Description=%s\n", desc)
	fmt.Fprintf(&b, "After=network.target\n")
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "[Service]\n")
	fmt.Fprintf(&b, "Type=notify\n")
	fmt.Fprintf(&b, "ExecStart=%s\n", opts.ExecStart)
	fmt.Fprintf(&b, "Restart=on-failure\n")
	fmt.Fprintf(&b, "RestartSec=10\n")
	fmt.Fprintf(&b, "WatchdogSec=30\n")
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "[Install]\n")
	fmt.Fprintf(&b, "WantedBy=%s\n", wantedBy)
	return b.String()
}

// UnitPath returns where the unit file lives: /etc/systemd/system for the
// system instance, $XDG_CONFIG_HOME/systemd/user (or ~/.config/systemd/user)
// for the per-user one.
func UnitPath(user bool) (string, error) {
	if !user {
		return filepath.Join("/etc/systemd/system", UnitName), nil
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "systemd", "user", UnitName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user", UnitName), nil
}

// journalArgs builds the argument list for journalctl log tailing.
func journalArgs(user, follow bool, lines int) []string {
	args := make([]string, 0, 6)
	if user {
		args = append(args, "--user")
	}
	args = append(args, "-u", UnitName)
	if follow {
		args = append(args, "-f")
	}
	if lines > 0 {
		args = append(args, "-n", strconv.Itoa(lines))
	}
	return args
}
