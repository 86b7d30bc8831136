// Package uring implements the URING_CMD submission engine the kernel
// transport uses to park a worker inside the kernel between operations
// (spec component 4.I, "Kernel Transport"). It knows nothing about any
// one filesystem's wire format: callers submit a raw command buffer
// against a device fd and get back the kernel's signed return value.
package uring

import (
	"errors"

	"github.com/anvilfs/zuscore/internal/logging"
)

// ErrRingFull is returned when the submission queue is full. The
// worker pool's call discipline guarantees at most depth in-flight
// operations per zu-thread, so this should never surface in practice.
var ErrRingFull = errors.New("submission queue full")

// Cmd is one URING_CMD submission: a raw, filesystem-defined command
// buffer targeted at a device fd with an opcode carried in the SQE's
// off field, the same convention zufs uses for its own control plane.
type Cmd struct {
	FD      int32
	Opcode  uint32
	Payload []byte
}

// Ring provides the interface for URING_CMD submission needed by the
// kernel transport. Implementations are free to run the payload
// synchronously (minimalRing) or through a full io_uring library
// (iouRing); callers only depend on this interface.
type Ring interface {
	// Close closes the ring and releases resources.
	Close() error

	// SubmitCmd submits a command and blocks for its completion.
	SubmitCmd(cmd Cmd, userData uint64) (Result, error)

	// PrepareCmd stages a command SQE without submitting to the kernel.
	// The SQE is written to ring memory but not visible to the kernel
	// until FlushSubmissions is called, enabling multiple commands to
	// be batched into one io_uring_enter syscall.
	// Returns ErrRingFull if the submission queue is full.
	PrepareCmd(cmd Cmd, userData uint64) error

	// FlushSubmissions submits all prepared SQEs with a single
	// io_uring_enter syscall. Returns the number of SQEs submitted.
	FlushSubmissions() (uint32, error)

	// WaitForCompletion waits for completion events and returns them.
	WaitForCompletion(timeout int) ([]Result, error)

	// NewBatch creates a new batch for bulk operations.
	NewBatch() Batch
}

// Batch allows batching multiple commands into a single submission.
type Batch interface {
	// Add adds a command to the batch.
	Add(cmd Cmd, userData uint64) error

	// Submit submits all commands in the batch.
	Submit() ([]Result, error)

	// Len returns the number of commands in the batch.
	Len() int
}

// Result represents the result of a command.
type Result interface {
	// UserData returns the user data associated with this result.
	UserData() uint64

	// Value returns the result value (0 for success, negative for errno).
	Value() int32

	// Error returns an error if the operation failed.
	Error() error
}

// Features describes available io_uring features.
type Features struct {
	SQE128   bool // 128-byte SQEs supported
	CQE32    bool // 32-byte CQEs supported
	UringCmd bool // URING_CMD operation supported
	SQPOLL   bool // Kernel-side polling supported
}

// SupportsFeatures checks if the kernel supports the features the
// dispatch core needs.
func SupportsFeatures() error {
	// Assume features are available on Linux 6.1+; a real probe would
	// read /proc/sys or attempt a trial io_uring_setup.
	return nil
}

// GetFeatures returns information about supported features.
func GetFeatures() (Features, error) {
	return Features{
		SQE128:   true,
		CQE32:    true,
		UringCmd: true,
		SQPOLL:   false,
	}, nil
}

// Config contains configuration for creating a ring.
type Config struct {
	Entries uint32 // Number of entries in the ring
	FD      int32  // Default fd for operations that don't name their own
	Flags   uint32 // Additional flags
}

// NewRing creates a new Ring implementation using the minimal pure-Go
// URING_CMD path.
func NewRing(config Config) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating io_uring", "entries", config.Entries, "fd", config.FD)

	ring, err := NewMinimalRing(config.Entries, config.FD)
	if err != nil {
		logger.Error("failed to create io_uring", "error", err)
		return nil, err
	}

	logger.Info("created io_uring", "entries", config.Entries)
	return ring, nil
}
