// Package lockfile probes the advisory locks the package manager takes
// on its per-build lockfiles. A held lock means the build process is
// still alive; a free or missing lockfile means it finished.
package lockfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Status is the result of a non-blocking lock probe.
type Status int

const (
	// Held means another process holds the lock: the build is running.
	Held Status = iota
	// Free means the lock could be acquired: the holder is gone.
	Free
	// Absent means the lockfile does not exist.
	Absent
)

func (s Status) String() string {
	switch s {
	case Held:
		return "held"
	case Free:
		return "free"
	case Absent:
		return "absent"
	}
	return "unknown"
}

// Check attempts a non-blocking exclusive fcntl lock on path. The probe
// acquires and immediately releases the lock when it is free, which is
// why callers account for the extra close event it can generate.
// Unexpected errors are returned as-is; they indicate the liveness model
// no longer holds and must not be swallowed.
func Check(path string) (Status, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Absent, nil
		}
		return Free, fmt.Errorf("open lockfile: %w", err)
	}
	defer file.Close()

	lock := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0}
	err = unix.FcntlFlock(file.Fd(), unix.F_SETLK, &lock)
	if err == nil {
		lock.Type = unix.F_UNLCK
		_ = unix.FcntlFlock(file.Fd(), unix.F_SETLK, &lock)
		return Free, nil
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EACCES) {
		return Held, nil
	}
	return Free, fmt.Errorf("probe lock on %s: %w", path, err)
}
