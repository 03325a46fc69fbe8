// Package lockfile guards a LeadPipe state directory against a second instance.
//
// The lock is an flock on a file in the state directory, so the kernel releases
// it when the process exits, however it exits.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "leadpipe.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Owner describes the process holding a lock.
type Owner struct {
	PID     int
	AgentID string
}

func (o Owner) String() string {
	return fmt.Sprintf("pid=%d\nagent=%s\n", o.PID, o.AgentID)
}

// AcquireLock takes the exclusive lock on stateDir for agentID. It fails
// immediately with a *LockError when another process holds it.
func AcquireLock(stateDir, agentID string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's details before we know we own the lock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := readOwner(lockPath)
		slog.Error("AcquireLock: state directory is locked by another instance",
			"lock_path", lockPath, "holder_pid", holder.PID, "holder_agent", holder.AgentID)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	owner := Owner{PID: os.Getpid(), AgentID: agentID}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: state directory locked", "lock_path", lockPath, "pid", owner.PID, "agentID", agentID)
	return &Lock{file: file, path: lockPath}, nil
}

func writeOwner(file *os.File, owner Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(owner.String()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("AcquireLock: failed to sync lock file", "error", err)
	}
	return nil
}

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lock.Release: failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lock.Release: failed to close lock file", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Holder   Owner
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another LeadPipe instance is already using this state directory (lock file: %s)", e.LockPath)
	if e.Holder.PID > 0 {
		state := "running"
		if !isProcessRunning(e.Holder.PID) {
			state = "not running, lock may be stale"
		}
		fmt.Fprintf(&b, "; held by PID %d (%s)", e.Holder.PID, state)
	}
	if e.Holder.AgentID != "" {
		fmt.Fprintf(&b, " for agent %s", e.Holder.AgentID)
	}
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// readOwner parses the holder details from a lock file. Missing fields stay zero.
func readOwner(lockPath string) Owner {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Owner{}
	}
	return parseOwner(string(data))
}

func parseOwner(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				o.PID = pid
			}
		case "agent":
			o.AgentID = value
		}
	}
	return o
}

// isProcessRunning sends signal 0 to pid.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
