package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the daemon state directory,
// $XDG_DATA_HOME/dropsync or ~/.local/share/dropsync.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "dropsync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".local", "share", "dropsync")
}

// RevisionDBPath returns the revision index database location.
func RevisionDBPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, "revisions.db")
}

// PIDFilePath returns the daemon PID file location.
func PIDFilePath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, "daemon.pid")
}
