// Package lock provides per-PR advisory lock files that record the owning
// process so a lock left by a crashed process can be detected and cleared.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// writeGrace is how long a lock file without a valid owner counts as held.
// It covers a writer that created the file but has not yet written its PID.
const writeGrace = 10 * time.Second

// ErrLocked is returned when a live process holds the lock.
var ErrLocked = errors.New("review cycle is locked by another process")

// LockedError identifies the process holding a lock.
type LockedError struct {
	Path string
	PID  int
}

func (e *LockedError) Error() string {
	if e.PID == 0 {
		return fmt.Sprintf("%s: being written (%s)", ErrLocked, e.Path)
	}
	return fmt.Sprintf("%s: held by pid %d (%s)", ErrLocked, e.PID, e.Path)
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// Manager hands out lock files under a directory.
type Manager struct {
	Dir string
}

// NewManager creates a Manager for the given directory.
func NewManager(dir string) *Manager {
	return &Manager{Dir: dir}
}

// Path returns the lock file path for a PR.
func (m *Manager) Path(repo string, prNumber int) string {
	name := strings.NewReplacer("/", "-", "\\", "-", ":", "-").Replace(repo)
	return filepath.Join(m.Dir, fmt.Sprintf("%s-pr-%d.lock", name, prNumber))
}

// Acquire takes the lock for a PR. A lock whose owner is no longer running
// is removed and retaken; a live owner yields a *LockedError.
//
// The PID is written to a temporary file that is then hard-linked into
// place, so the lock file never exists without its owner.
func (m *Manager) Acquire(repo string, prNumber int) (*Lock, error) {
	if err := os.MkdirAll(m.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := m.Path(repo, prNumber)
	pid := os.Getpid()

	tmp, err := writeTemp(m.Dir, pid)
	if err != nil {
		return nil, fmt.Errorf("write lock %s: %w", path, err)
	}
	defer os.Remove(tmp)

	for attempt := 0; attempt < 2; attempt++ {
		err := os.Link(tmp, path)
		if err == nil {
			return &Lock{Path: path, pid: pid}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}

		owner, alive := inspect(path)
		if alive {
			return nil, &LockedError{Path: path, PID: owner}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("acquire lock %s: lost race with another process", path)
}

func writeTemp(dir string, pid int) (string, error) {
	f, err := os.CreateTemp(dir, ".lock-*")
	if err != nil {
		return "", err
	}
	_, werr := f.WriteString(strconv.Itoa(pid) + "\n")
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Held reports whether a live process holds the PR's lock.
func (m *Manager) Held(repo string, prNumber int) (pid int, held bool) {
	return inspect(m.Path(repo, prNumber))
}

// ClearStale removes the PR's lock file if its owner is dead.
// It reports whether a file was removed.
func (m *Manager) ClearStale(repo string, prNumber int) (bool, error) {
	path := m.Path(repo, prNumber)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if _, alive := inspect(path); alive {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("remove stale lock %s: %w", path, err)
	}
	return true, nil
}

// Lock is a held lock file.
type Lock struct {
	Path string
	pid  int
}

// Release removes the lock file if this process still owns it.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	owner, err := readPID(l.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && owner != l.pid {
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", l.Path, err)
	}
	return nil
}

// inspect reads the owner of a lock file and whether it is still running.
// Unreadable content counts as a dead owner once the file is older than
// writeGrace.
func inspect(path string) (int, bool) {
	pid, err := readPID(path)
	if err == nil {
		return pid, processAlive(pid)
	}
	if errors.Is(err, os.ErrNotExist) {
		return 0, false
	}
	info, serr := os.Stat(path)
	if serr != nil {
		return 0, false
	}
	return 0, time.Since(info.ModTime()) < writeGrace
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid lock file content %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}
