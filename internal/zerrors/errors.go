// Package zerrors holds the structured dispatch-core error type and
// the kernel-errno translation helpers (Design Notes §9). It lives
// under internal/ rather than the root package so that internal/
// packages (dispatch, mount, workerpool) can depend on it without
// creating an import cycle back through the root package, which
// re-exports everything here under the same names.
package zerrors

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured dispatch-core error carrying enough context to
// attribute a failure to a worker, an operation, and a syscall errno.
type Error struct {
	Op      string    // operation that failed, e.g. "MOUNT", "LOOKUP", "zu_thread.open"
	CPU     int       // pinned cpu of the worker involved (-1 if not applicable)
	Channel int       // channel index of the worker involved (-1 if not applicable)
	Code    ErrorCode // high-level error category
	Errno   syscall.Errno
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.CPU >= 0 {
		parts = append(parts, fmt.Sprintf("cpu=%d", e.CPU))
	}
	if e.Channel >= 0 {
		parts = append(parts, fmt.Sprintf("channel=%d", e.Channel))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("zuscore: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("zuscore: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is the high-level error taxonomy for dispatch-core
// failures: one category per distinct recovery/logging behavior.
type ErrorCode string

const (
	ErrCodeIO              ErrorCode = "io error"
	ErrCodeResource        ErrorCode = "resource error"
	ErrCodeInvalidArgument ErrorCode = "invalid argument"
	ErrCodeUnsupported     ErrorCode = "unsupported"
	ErrCodeNotFound        ErrorCode = "not found"
	ErrCodeAlreadyExists   ErrorCode = "already exists"
	ErrCodeNotATTY         ErrorCode = "not a tty"
	ErrCodeBadAddress      ErrorCode = "bad address"
)

// Error constructors

func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, CPU: -1, Channel: -1, Code: code, Msg: msg}
}

func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, CPU: -1, Channel: -1, Code: code, Errno: errno, Msg: errno.Error()}
}

func NewWorkerError(op string, cpu, channel int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, CPU: cpu, Channel: channel, Code: code, Msg: msg}
}

// WrapError wraps an existing error with dispatch-core context,
// mapping a bare syscall.Errno to its ErrorCode via mapErrnoToCode.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ze, ok := inner.(*Error); ok {
		return &Error{
			Op: op, CPU: ze.CPU, Channel: ze.Channel,
			Code: ze.Code, Errno: ze.Errno, Msg: ze.Msg, Inner: ze.Inner,
		}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{
			Op: op, CPU: -1, Channel: -1,
			Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner,
		}
	}

	return &Error{Op: op, CPU: -1, Channel: -1, Code: ErrCodeIO, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeNotFound
	case syscall.EEXIST:
		return ErrCodeAlreadyExists
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidArgument
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeUnsupported
	case syscall.ENOTTY:
		return ErrCodeNotATTY
	case syscall.EFAULT:
		return ErrCodeBadAddress
	case syscall.ENOMEM:
		return ErrCodeResource
	default:
		return ErrCodeIO
	}
}

func IsCode(err error, code ErrorCode) bool {
	var ze *Error
	if errors.As(err, &ze) {
		return ze.Code == code
	}
	return false
}

func IsErrno(err error, errno syscall.Errno) bool {
	var ze *Error
	if errors.As(err, &ze) {
		return ze.Errno == errno
	}
	return false
}

// ErrnoToKernel centralizes the kernel sign convention (Design Notes
// §9): internally errors are non-negative; at the kernel write-back
// boundary they are negated. A nil error or zero errno writes 0.
func ErrnoToKernel(errno syscall.Errno) int32 {
	if errno == 0 {
		return 0
	}
	return -int32(errno)
}

// KernelToErrno undoes ErrnoToKernel's negation for a value read back
// out of an operation header's error field.
func KernelToErrno(v int32) syscall.Errno {
	if v >= 0 {
		return 0
	}
	return syscall.Errno(-v)
}

// CodeToErrno maps a high-level ErrorCode to the errno the dispatcher
// writes into a header when no syscall errno is already attached.
func CodeToErrno(code ErrorCode) syscall.Errno {
	switch code {
	case ErrCodeIO:
		return syscall.EIO
	case ErrCodeResource:
		return syscall.ENOMEM
	case ErrCodeInvalidArgument:
		return syscall.EINVAL
	case ErrCodeUnsupported:
		return syscall.EOPNOTSUPP
	case ErrCodeNotFound:
		return syscall.ENOENT
	case ErrCodeAlreadyExists:
		return syscall.EEXIST
	case ErrCodeNotATTY:
		return syscall.ENOTTY
	case ErrCodeBadAddress:
		return syscall.EFAULT
	default:
		return syscall.EIO
	}
}

// ErrnoForError resolves the errno to write back for any error value:
// an *Error's own Errno if set, else CodeToErrno(ze.Code); a bare
// syscall.Errno as is; EIO for anything else.
func ErrnoForError(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var ze *Error
	if errors.As(err, &ze) {
		if ze.Errno != 0 {
			return ze.Errno
		}
		return CodeToErrno(ze.Code)
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}
