package udev

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"syscall"
)

var (
	// ErrNotFound reports a query that matched nothing. It is not a failure
	// of the registry. It matches fs.ErrNotExist.
	ErrNotFound = fmt.Errorf("udev: not found: %w", fs.ErrNotExist)

	// ErrClosed is returned for operations on a released handle or on a
	// handle whose Context has been closed.
	ErrClosed = errors.New("udev: use of closed handle")

	// ErrMonitorEnabled is returned by filter calls on a Monitor that has
	// already been turned into an EventStream.
	ErrMonitorEnabled = errors.New("udev: monitor already enabled")

	// ErrHwdbCorrupt is returned when the hardware database exists but
	// cannot be opened.
	ErrHwdbCorrupt = errors.New("udev: hardware database is corrupt")
)

// SystemError is a recoverable OS-level failure reported by the registry.
// It unwraps to the syscall.Errno, so errors.Is(err, syscall.EACCES) and
// friends work.
type SystemError struct {
	Op    string
	Errno syscall.Errno
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("udev: %s: %v", e.Op, e.Errno)
}

func (e *SystemError) Unwrap() error {
	return e.Errno
}

// FatalError describes a condition the process cannot continue from:
// allocation failure inside the registry, or a result the registry's
// contract says cannot happen. It is never returned; it is handed to the
// abort hook, which panics with it.
type FatalError struct {
	Op    string
	Errno syscall.Errno
	// Violation is set when the registry broke its contract rather than
	// running out of memory.
	Violation bool
}

func (e *FatalError) Error() string {
	if e.Violation {
		return fmt.Sprintf("udev: BUG: %s: unexpected result %v", e.Op, e.Errno)
	}
	return fmt.Sprintf("udev: %s: out of memory", e.Op)
}

func (e *FatalError) Unwrap() error {
	return e.Errno
}

// abort is the terminal path for FatalError. Tests swap it out.
var abort = func(err *FatalError) {
	slog.Error("udev: unrecoverable registry failure",
		"op", err.Op,
		"errno", int(err.Errno),
		"violation", err.Violation,
	)
	panic(err)
}

func outOfMemory(op string) {
	abort(&FatalError{Op: op, Errno: syscall.ENOMEM})
}

func violation(op string, errno syscall.Errno) {
	abort(&FatalError{Op: op, Errno: errno, Violation: true})
}

// check classifies a call that returns null on failure. The native layer
// captures errno right after the call with errno cleared beforehand, so a
// null result with errno 0 means "no such item".
func check[T comparable](op string, call func() (T, syscall.Errno)) (T, error) {
	var null T

	result, errno := call()
	if result != null {
		return result, nil
	}
	switch errno {
	case 0:
		return null, ErrNotFound
	case syscall.ENOMEM:
		outOfMemory(op)
		return null, &SystemError{Op: op, Errno: errno}
	default:
		return null, &SystemError{Op: op, Errno: errno}
	}
}

// checkStatus classifies an integer status from a configuration call whose
// only documented failure is -ENOMEM. Anything else negative means our
// picture of the registry is wrong, and that is not swallowed.
func checkStatus(op string, rc int) {
	switch {
	case rc == 0:
	case rc == -int(syscall.ENOMEM):
		outOfMemory(op)
	default:
		violation(op, errnoFromStatus(rc))
	}
}

// statusError classifies an integer status from a call that can fail for
// ordinary OS reasons: zero is success, -ENOMEM is fatal, any other
// negative value is a SystemError. Positive values break the contract.
func statusError(op string, rc int) error {
	switch {
	case rc == 0:
		return nil
	case rc == -int(syscall.ENOMEM):
		outOfMemory(op)
		return &SystemError{Op: op, Errno: syscall.ENOMEM}
	case rc < 0:
		return &SystemError{Op: op, Errno: syscall.Errno(-rc)}
	default:
		violation(op, syscall.Errno(rc))
		return &SystemError{Op: op, Errno: syscall.Errno(rc)}
	}
}

func errnoFromStatus(rc int) syscall.Errno {
	if rc < 0 {
		return syscall.Errno(-rc)
	}
	return syscall.Errno(rc)
}
