package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPath resolves the conventional config location:
// $XDG_CONFIG_HOME/chrond/config.json, falling back to
// ~/.config/chrond/config.json.
func DefaultPath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "chrond", "config.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return filepath.Join(home, ".config", "chrond", "config.json"), nil
}

// ResolvePath returns the explicit path when set (e.g. from --config), the
// default location otherwise.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	return DefaultPath()
}
