// Package lock keeps a single extract, import or cleanup run in flight per
// portable repository, using a PID file in the repository root.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFileName is the name of the PID file in the repository root.
const PIDFileName = ".ssdeploy.pid"

// PIDGuard prevents two processes from working on the same repository.
type PIDGuard struct {
	dir string
	// create opens the PID file exclusively.
	create func(path string) (*os.File, error)
}

// NewPIDGuard creates a guard for the repository rooted at dir.
func NewPIDGuard(dir string) *PIDGuard {
	return &PIDGuard{dir: dir, create: createExclusive}
}

func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
}

// Path returns the PID file path.
func (g *PIDGuard) Path() string {
	return filepath.Join(g.dir, PIDFileName)
}

// Check verifies no live process holds the guard. Stale and unreadable PID
// files are removed.
func (g *PIDGuard) Check() error {
	pidFile := g.Path()

	data, err := os.ReadFile(pidFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = os.Remove(pidFile)
		return nil
	}
	if pid == os.Getpid() || processExists(pid) {
		return &AlreadyRunningError{PID: pid, Path: pidFile}
	}

	_ = os.Remove(pidFile)
	return nil
}

// Acquire checks the guard and claims it for the current process. The file is
// created exclusively, so of two racing processes only one succeeds.
func (g *PIDGuard) Acquire() error {
	if err := g.Check(); err != nil {
		return err
	}
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return fmt.Errorf("create repository dir: %w", err)
	}

	f, err := g.create(g.Path())
	if errors.Is(err, fs.ErrExist) {
		// Lost a race. Check clears a stale file; then try exactly once more.
		if err := g.Check(); err != nil {
			return err
		}
		f, err = g.create(g.Path())
		if errors.Is(err, fs.ErrExist) {
			return &AlreadyRunningError{Path: g.Path()}
		}
	}
	if err != nil {
		return fmt.Errorf("create pid file: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(g.Path())
		return fmt.Errorf("write pid file: %w", werr)
	}
	return nil
}

// Release removes the PID file if it belongs to the current process.
func (g *PIDGuard) Release() {
	data, err := os.ReadFile(g.Path())
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == os.Getpid() {
		_ = os.Remove(g.Path())
	}
}

// AlreadyRunningError indicates another run holds the repository.
type AlreadyRunningError struct {
	PID  int
	Path string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("another ssdeploy run is active on this repository (pid %d, %s)", e.PID, e.Path)
}

// processExists checks if a process with the given PID exists.
func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds. We need to send signal 0 to check.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
