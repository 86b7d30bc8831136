package zuscore

import (
	"syscall"

	"github.com/anvilfs/zuscore/internal/zerrors"
)

// Error, ErrorCode, and the errno-translation helpers live in
// internal/zerrors so that internal packages (dispatch, mount,
// workerpool) can use them without importing this root package.
// Everything here is a direct re-export for callers outside internal/.
type Error = zerrors.Error
type ErrorCode = zerrors.ErrorCode

const (
	ErrCodeIO              = zerrors.ErrCodeIO
	ErrCodeResource        = zerrors.ErrCodeResource
	ErrCodeInvalidArgument = zerrors.ErrCodeInvalidArgument
	ErrCodeUnsupported     = zerrors.ErrCodeUnsupported
	ErrCodeNotFound        = zerrors.ErrCodeNotFound
	ErrCodeAlreadyExists   = zerrors.ErrCodeAlreadyExists
	ErrCodeNotATTY         = zerrors.ErrCodeNotATTY
	ErrCodeBadAddress      = zerrors.ErrCodeBadAddress
)

func NewError(op string, code ErrorCode, msg string) *Error { return zerrors.NewError(op, code, msg) }

func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return zerrors.NewErrorWithErrno(op, code, errno)
}

func NewWorkerError(op string, cpu, channel int, code ErrorCode, msg string) *Error {
	return zerrors.NewWorkerError(op, cpu, channel, code, msg)
}

func WrapError(op string, inner error) *Error { return zerrors.WrapError(op, inner) }

func IsCode(err error, code ErrorCode) bool { return zerrors.IsCode(err, code) }

func IsErrno(err error, errno syscall.Errno) bool { return zerrors.IsErrno(err, errno) }

func ErrnoToKernel(errno syscall.Errno) int32 { return zerrors.ErrnoToKernel(errno) }

func KernelToErrno(v int32) syscall.Errno { return zerrors.KernelToErrno(v) }

func CodeToErrno(code ErrorCode) syscall.Errno { return zerrors.CodeToErrno(code) }

func ErrnoForError(err error) syscall.Errno { return zerrors.ErrnoForError(err) }

func mapErrnoToCode(errno syscall.Errno) ErrorCode { return zerrors.WrapError("", errno).Code }
