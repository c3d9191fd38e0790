// Package xdg provides XDG Base Directory paths for gatehouse.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "gatehouse"

// ConfigDir returns the XDG config directory for gatehouse.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile returns the path of the default config file inside
// ConfigDir, and whether it exists.
func DefaultConfigFile() (string, bool) {
	path := filepath.Join(ConfigDir(), "config.yaml")
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return path, false
	}
	return path, true
}
