// Package lockfile prevents two loopctl run engines from operating on the
// same or a nested feature path at once (spec.md §4.4).
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Handle represents an acquired lock; Release must be called to give it up.
type Handle struct {
	dir  string
	path string
	pid  int
}

// Lock is the parsed three-line contents of a lockfile.
type Lock struct {
	PID          int
	Path         string
	AcquiredAt   time.Time
}

// ConflictError is returned when acquisition fails because another live
// process holds a lock on an equal, ancestor, or descendant path.
type ConflictError struct {
	Path string
	PID  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("another instance (pid %d) holds a conflicting lock on %s", e.PID, e.Path)
}

// Acquire sweeps stale locks in dir (the central per-user lockfile
// directory), rejects if any remaining live lock's path is equal to,
// an ancestor of, or a descendant of target, and otherwise writes a new
// lockfile for target.
func Acquire(dir, target string) (*Handle, error) {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lockfile directory: %w", err)
	}

	if err := sweepStale(dir); err != nil {
		return nil, fmt.Errorf("sweeping stale locks: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing lockfile directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		lock, err := readLock(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // Unreadable/corrupt lockfile; ignore rather than fail acquisition.
		}
		if conflicts(lock.Path, absTarget) {
			return nil, &ConflictError{Path: lock.Path, PID: lock.PID}
		}
	}

	path := filepath.Join(dir, EncodePath(absTarget)+".lock")
	content := fmt.Sprintf("%d\n%s\n%s\n", os.Getpid(), absTarget, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writing lockfile: %w", err)
	}

	return &Handle{dir: dir, path: path, pid: os.Getpid()}, nil
}

// Release removes the lockfile only if it is still owned by this process.
func (h *Handle) Release() error {
	lock, err := readLock(h.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading lockfile before release: %w", err)
	}
	if lock.PID != h.pid {
		return fmt.Errorf("refusing to release lockfile %s: owned by pid %d, not %d", h.path, lock.PID, h.pid)
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lockfile: %w", err)
	}
	return nil
}

// conflicts reports whether target equals, is an ancestor of, or is a
// descendant of existing.
func conflicts(existing, target string) bool {
	if existing == target {
		return true
	}
	return isAncestor(existing, target) || isAncestor(target, existing)
}

// isAncestor reports whether ancestor is a directory prefix of descendant.
func isAncestor(ancestor, descendant string) bool {
	rel, err := filepath.Rel(ancestor, descendant)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}

// EncodePath reversibly encodes an absolute path into a filename-safe
// string by turning slashes into double underscores.
func EncodePath(p string) string {
	return strings.ReplaceAll(strings.TrimPrefix(p, string(filepath.Separator)), string(filepath.Separator), "__")
}

func readLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("malformed lockfile %s", path)
	}

	pid, err := strconv.Atoi(lines[0])
	if err != nil {
		return nil, fmt.Errorf("malformed pid in lockfile %s: %w", path, err)
	}

	lock := &Lock{PID: pid, Path: lines[1]}
	if len(lines) >= 3 {
		lock.AcquiredAt, _ = time.Parse(time.RFC3339, lines[2])
	}
	return lock, nil
}

// sweepStale removes any lockfile in dir whose owning pid is no longer alive.
func sweepStale(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		lock, err := readLock(path)
		if err != nil {
			continue
		}
		if !isProcessAlive(lock.PID) {
			os.Remove(path)
		}
	}
	return nil
}

// isProcessAlive checks whether a process with the given PID exists on
// this host, grounded on the teacher's exclusive-lock liveness probe
// (signal 0 / EPERM fail-open).
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		// Process exists but we lack permission to signal it; fail open
		// rather than declaring a live lock stale.
		return true
	}
	return false
}
