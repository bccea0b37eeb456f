// Package lockfile serializes access to a StatusPipe state directory.
//
// The daemon and the one-shot CLI commands all take the same flock on
// <stateDir>/statuspipe.lock, so a status operation never races another
// process. The kernel drops the lock when the holder exits.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "statuspipe.lock"

// Holder describes the process holding a lock, as written in the lock file.
type Holder struct {
	PID     int
	Command string
	Since   time.Time
}

func (h Holder) String() string {
	if h.PID == 0 {
		return "unknown holder"
	}
	state := "not running, stale lock"
	if processAlive(h.PID) {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", h.PID, state)
	if h.Command != "" {
		s += " command=" + h.Command
	}
	if !h.Since.IsZero() {
		s += " since=" + h.Since.Format(time.RFC3339)
	}
	return s
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the state directory lock without blocking. command names the
// holder in the lock file. When another process holds the lock the error is a
// *LockError.
func Acquire(stateDir, command string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Not O_TRUNC: a losing contender must not wipe the holder's details.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readHolder(file)
		file.Close()
		slog.Warn("Acquire: state directory is locked", "lock_path", lockPath, "holder", holder.String())
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	if err := writeHolder(file, Holder{PID: os.Getpid(), Command: command, Since: time.Now()}); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Debug("Acquire: state directory locked", "lock_path", lockPath, "command", command)
	return &Lock{file: file, path: lockPath}, nil
}

// Release drops the lock and removes the lock file. It is safe to call more
// than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var firstErr error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		firstErr = fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = fmt.Errorf("failed to remove %s: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close %s: %w", l.path, err)
	}
	l.file = nil
	slog.Debug("Lock.Release: state directory unlocked", "lock_path", l.path)
	return firstErr
}

// LockError reports that another process holds the lock.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("state directory is in use by another StatusPipe process (%s); lock file %s. "+
		"Remove the lock file only if that process is gone.", e.Holder, e.LockPath)
}

func (e *LockError) Unwrap() error { return e.Cause }

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\ncommand=%s\nsince=%s\n", h.PID, h.Command, h.Since.UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	return f.Sync()
}

func readHolder(f *os.File) Holder {
	if _, err := f.Seek(0, 0); err != nil {
		return Holder{}
	}
	return parseHolder(bufio.NewScanner(f))
}

func parseHolder(sc *bufio.Scanner) Holder {
	var h Holder
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "command":
			h.Command = value
		case "since":
			h.Since, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h
}

// processAlive sends signal 0, which only checks that pid exists.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
