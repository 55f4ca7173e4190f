// Package lockfile guards the data directory against a second server
// instance. The lock is a pidfile next to the database; a leftover file from
// a dead process is reclaimed automatically.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a held pidfile.
type Lock struct {
	path string
}

// Acquire takes the pidfile at path, creating parent directories as needed.
// Returns an error when another live process holds it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write pidfile: %w", werr)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create pidfile: %w", err)
		}
		pid, perr := readPID(path)
		if perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("another instance (pid %d) holds %s", pid, path)
		}
		// Stale or unreadable pidfile; reclaim it and retry once.
		if rerr := os.Remove(path); rerr != nil {
			return nil, fmt.Errorf("remove stale pidfile: %w", rerr)
		}
	}
	return nil, fmt.Errorf("could not acquire %s", path)
}

// Release removes the pidfile. Safe to call once.
func (l *Lock) Release() error {
	return os.Remove(l.path)
}

// Path returns the pidfile location.
func (l *Lock) Path() string {
	return l.path
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive reports whether pid refers to a live process we could signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return err == syscall.EPERM
}
