//go:build linux

package svcmgr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager drives the chrond unit through the systemd D-Bus API. It holds a
// single connection and is meant for short-lived CLI use, not concurrent
// sharing.
type Manager struct {
	conn *dbus.Conn
	user bool
}

// New connects to the system bus, or to the caller's user instance when
// user is true.
func New(ctx context.Context, user bool) (*Manager, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if user {
		conn, err = dbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn, user: user}, nil
}

func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// Install writes the unit file, reloads the systemd daemon, and enables the
// unit so it starts on boot. It returns the path the unit was written to.
func (m *Manager) Install(ctx context.Context, opts UnitOptions) (string, error) {
	opts.User = m.user
	path, err := UnitPath(m.user)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create unit directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(RenderUnit(opts)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write unit file: %w", err)
	}
	if err := m.conn.ReloadContext(ctx); err != nil {
		return path, fmt.Errorf("failed to reload systemd: %w", err)
	}
	if _, _, err := m.conn.EnableUnitFilesContext(ctx, []string{UnitName}, false, true); err != nil {
		return path, fmt.Errorf("failed to enable %s: %w", UnitName, err)
	}
	return path, nil
}

// Uninstall stops and disables the unit, removes its file, and reloads the
// daemon. A unit that was never installed is not an error.
func (m *Manager) Uninstall(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil && !isNoSuchUnitErr(err) {
		return err
	}
	if _, err := m.conn.DisableUnitFilesContext(ctx, []string{UnitName}, false); err != nil && !isNoSuchUnitErr(err) {
		return fmt.Errorf("failed to disable %s: %w", UnitName, err)
	}
	path, err := UnitPath(m.user)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}
	if err := m.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}
	return nil
}

func (m *Manager) Start(ctx context.Context) error {
	ch := make(chan string, 1)
	if _, err := m.conn.StartUnitContext(ctx, UnitName, "replace", ch); err != nil {
		return fmt.Errorf("failed to start %s: %w", UnitName, err)
	}
	return waitJob(ctx, ch, "start")
}

func (m *Manager) Stop(ctx context.Context) error {
	ch := make(chan string, 1)
	if _, err := m.conn.StopUnitContext(ctx, UnitName, "replace", ch); err != nil {
		return fmt.Errorf("failed to stop %s: %w", UnitName, err)
	}
	return waitJob(ctx, ch, "stop")
}

// waitJob blocks until systemd reports the queued job's result. systemctl
// behaves the same way, so CLI exit codes reflect the actual outcome.
func waitJob(ctx context.Context, ch <-chan string, op string) error {
	select {
	case res := <-ch:
		if res != "done" {
			return fmt.Errorf("%s job for %s finished with result %q", op, UnitName, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status fetches the unit's core state. Missing units report LoadState
// "not-found" rather than an error.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	props, err := m.conn.GetUnitPropertiesContext(ctx, UnitName)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return &Status{Name: UnitName, Active: "unknown", SubState: "not-found", LoadState: "not-found"}, nil
		}
		return nil, fmt.Errorf("failed to get status for %s: %w", UnitName, err)
	}

	activeState, _ := getStringProperty(props, "ActiveState")
	subState, _ := getStringProperty(props, "SubState")
	loadState, _ := getStringProperty(props, "LoadState")
	description, _ := getStringProperty(props, "Description")

	st := &Status{
		Name:        UnitName,
		Active:      activeState,
		SubState:    subState,
		LoadState:   loadState,
		Description: description,
		ActiveSince: parseTimestamp(props, "ActiveEnterTimestamp"),
		StateChange: parseTimestamp(props, "StateChangeTimestamp"),
	}
	if pid, ok := props["MainPID"].(uint32); ok {
		st.MainPID = int(pid)
	}
	if st.Installed() {
		st.Enabled = m.isEnabled(ctx)
	}
	return st, nil
}

func (m *Manager) isEnabled(ctx context.Context) bool {
	states, err := m.conn.ListUnitFilesByPatternsContext(ctx, nil, []string{UnitName})
	if err != nil {
		return false
	}
	for _, state := range states {
		if state.Path == UnitName || strings.HasSuffix(state.Path, "/"+UnitName) {
			return state.Type == "enabled"
		}
	}
	return false
}

// Logs execs journalctl for the unit, streaming straight to the caller's
// stdio. follow keeps the pipe open until interrupted.
func Logs(ctx context.Context, user, follow bool, lines int) error {
	cmd := exec.CommandContext(ctx, "journalctl", journalArgs(user, follow, lines)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		// An interrupt while following is the normal way out, not a failure.
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("journalctl: %w", err)
	}
	return nil
}

func parseTimestamp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// systemd timestamps are in microseconds since the Unix epoch
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}

func getStringProperty(props map[string]interface{}, key string) (string, bool) {
	if val, ok := props[key].(string); ok {
		return val, true
	}
	return "", false
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	if strings.Contains(es, "NoSuchUnit") {
		return true
	}
	return strings.Contains(es, "not-found")
}
