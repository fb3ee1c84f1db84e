package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// pidFilePermissions matches the standard config file permissions (owner rw, group/other r).
const pidFilePermissions = 0o644

// pidDirPermissions matches the standard directory permissions (owner rwx, group/other rx).
const pidDirPermissions = 0o755

// acquirePIDFile writes the current process ID to path and takes an
// exclusive flock. Returns a cleanup function that removes the file and
// releases the lock. If the lock cannot be acquired, another daemon is
// already running.
func acquirePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("PID file path is empty — cannot determine data directory")
	}

	dir := filepath.Dir(path)
	if mkdirErr := os.MkdirAll(dir, pidDirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", mkdirErr)
	}

	lock := flock.New(path)

	// Non-blocking exclusive lock — fails immediately if another process holds it.
	locked, lockErr := lock.TryLock()
	if lockErr != nil {
		return nil, fmt.Errorf("locking PID file: %w", lockErr)
	}

	if !locked {
		return nil, fmt.Errorf("another dropsync daemon is already running (could not lock %s)", path)
	}

	if writeErr := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), pidFilePermissions); writeErr != nil {
		lock.Unlock()

		return nil, fmt.Errorf("writing PID file: %w", writeErr)
	}

	return func() {
		os.Remove(path)
		lock.Unlock()
	}, nil
}

// readPIDFile reads the PID from the given file path. Returns 0 and an error
// if the file does not exist or contains invalid content.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// daemonPID returns the PID of the running daemon, or 0 when no daemon is
// alive. Stale PID files (process dead) are cleaned up.
func daemonPID(path string) int {
	pid, err := readPIDFile(path)
	if err != nil {
		return 0
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0
	}

	// Probe liveness with signal 0.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)
		return 0
	}

	return pid
}
