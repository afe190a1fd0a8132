package svcmgr

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestRenderUnit(t *testing.T) {
	t.Parallel()

	out := RenderUnit(UnitOptions{ExecStart: "/usr/local/bin/chrond run --config /etc/chrond/config.json"})

	for _, want := range []string{
		"[Unit]",
		"[Service]",
		"[Install]",
		"Type=notify",
		"ExecStart=/usr/local/bin/chrond run --config /etc/chrond/config.json",
		"Restart=on-failure",
		"RestartSec=10",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("unit file missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "Description=chrond") {
		t.Errorf("unit file missing default description:\n%s", out)
	}
}

func TestRenderUnitUserMode(t *testing.T) {
	t.Parallel()

	out := RenderUnit(UnitOptions{ExecStart: "/opt/chrond run", Description: "my runner", User: true})

	if !strings.Contains(out, "WantedBy=default.target") {
		t.Errorf("user unit should want default.target:\n%s", out)
	}
	if strings.Contains(out, "multi-user.target") {
		t.Errorf("user unit must not reference multi-user.target:\n%s", out)
	}
	if !strings.Contains(out, "Description=my runner") {
		t.Errorf("custom description not rendered:\n%s", out)
	}
}

func TestUnitPath(t *testing.T) {
	sysPath, err := UnitPath(false)
	if err != nil {
		t.Fatalf("UnitPath(false) error: %v", err)
	}
	if sysPath != filepath.Join("/etc/systemd/system", UnitName) {
		t.Fatalf("system unit path = %q", sysPath)
	}

	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	userPath, err := UnitPath(true)
	if err != nil {
		t.Fatalf("UnitPath(true) error: %v", err)
	}
	if userPath != filepath.Join("/tmp/xdg", "systemd", "user", UnitName) {
		t.Fatalf("user unit path = %q", userPath)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/op")
	userPath, err = UnitPath(true)
	if err != nil {
		t.Fatalf("UnitPath(true) error: %v", err)
	}
	if userPath != filepath.Join("/home/op", ".config", "systemd", "user", UnitName) {
		t.Fatalf("user unit path without XDG = %q", userPath)
	}
}

func TestJournalArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		user   bool
		follow bool
		lines  int
		want   []string
	}{
		{"defaults", false, false, 50, []string{"-u", UnitName, "-n", "50"}},
		{"follow", false, true, 10, []string{"-u", UnitName, "-f", "-n", "10"}},
		{"user bus", true, false, 50, []string{"--user", "-u", UnitName, "-n", "50"}},
		{"no line cap", false, false, 0, []string{"-u", UnitName}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := journalArgs(tt.user, tt.follow, tt.lines)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("journalArgs(%v, %v, %d) = %v, want %v", tt.user, tt.follow, tt.lines, got, tt.want)
			}
		})
	}
}

func TestStatusInstalled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		st   *Status
		want bool
	}{
		{"nil", nil, false},
		{"empty", &Status{}, false},
		{"not found", &Status{LoadState: "not-found"}, false},
		{"loaded", &Status{LoadState: "loaded"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.st.Installed(); got != tt.want {
				t.Fatalf("Installed() = %v, want %v", got, tt.want)
			}
		})
	}
}
