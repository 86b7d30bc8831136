// Package uring: minimal URING_CMD implementation. NewRing always
// returns this ring, with or without the giouring build tag. It talks
// directly to the io_uring syscalls for the one opcode the kernel
// transport needs.
package uring

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/anvilfs/zuscore/internal/logging"
	"golang.org/x/sys/unix"
)

// System call numbers for io_uring.
const (
	__NR_io_uring_setup = 425
	__NR_io_uring_enter = 426
)

// Minimal SQE/CQE layout for URING_CMD operations only.
// Based on kernel include/uapi/linux/io_uring.h.
const (
	IORING_OP_URING_CMD = 46

	IORING_SETUP_SQE128 = 1 << 10
	IORING_SETUP_CQE32  = 1 << 11
)

// sqe128 is the 128-byte SQE layout URING_CMD requires.
type sqe128 struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opcodeFlags uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceOff   int32
	addr3       uint64
	_           uint64
	cmd         [80]byte // command-specific data for URING_CMD
}

// cqe32 is the 32-byte CQE layout CQE32 requires.
type cqe32 struct {
	userData uint64
	res      int32
	flags    uint32
	bigCQE   [16]uint8
}

type io_uring_params struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCpu  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        struct {
		head        uint32
		tail        uint32
		ringMask    uint32
		ringEntries uint32
		flags       uint32
		dropped     uint32
		array       uint32
		resv1       uint32
		userAddr    uint64
	}
	cqOff struct {
		head        uint32
		tail        uint32
		ringMask    uint32
		ringEntries uint32
		overflow    uint32
		cqes        uint32
		flags       uint32
		resv1       uint32
		userAddr    uint64
	}
}

// minimalRing implements just URING_CMD submission.
type minimalRing struct {
	fd     int
	params io_uring_params
	sqAddr unsafe.Pointer
	cqAddr unsafe.Pointer
}

// NewMinimalRing creates a minimal io_uring for URING_CMD operations.
func NewMinimalRing(entries uint32, defaultFD int32) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating minimal io_uring", "entries", entries, "default_fd", defaultFD)

	params := io_uring_params{
		sqEntries: entries,
		cqEntries: entries * 2,
		flags:     IORING_SETUP_SQE128 | IORING_SETUP_CQE32,
	}

	logger.Debug("calling io_uring_setup", "flags", fmt.Sprintf("0x%x", params.flags))

	ringFd, _, errno := syscall.Syscall(unix.SYS_IO_URING_SETUP,
		uintptr(entries),
		uintptr(unsafe.Pointer(&params)),
		0)
	if errno != 0 {
		logger.Error("io_uring_setup failed", "errno", errno)
		return nil, fmt.Errorf("io_uring_setup failed: %v", errno)
	}

	logger.Debug("io_uring_setup succeeded", "ring_fd", ringFd)

	sqSize := params.sqOff.array + params.sqEntries*4
	cqSize := params.cqOff.cqes + params.cqEntries*uint32(unsafe.Sizeof(cqe32{}))

	sqAddr, err := unix.Mmap(int(ringFd), 0, int(sqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		syscall.Close(int(ringFd))
		return nil, fmt.Errorf("failed to mmap SQ: %v", err)
	}

	cqAddr, err := unix.Mmap(int(ringFd), 0x8000000, int(cqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(sqAddr)
		syscall.Close(int(ringFd))
		return nil, fmt.Errorf("failed to mmap CQ: %v", err)
	}

	return &minimalRing{
		fd:     int(ringFd),
		params: params,
		sqAddr: unsafe.Pointer(&sqAddr[0]),
		cqAddr: unsafe.Pointer(&cqAddr[0]),
	}, nil
}

func (r *minimalRing) Close() error {
	return syscall.Close(r.fd)
}

// buildSQE lays out cmd's payload into the fixed 80-byte command area.
func buildSQE(cmd Cmd, userData uint64) (*sqe128, error) {
	if len(cmd.Payload) > 80 {
		return nil, fmt.Errorf("command payload %d bytes exceeds 80-byte SQE command area", len(cmd.Payload))
	}
	sqe := &sqe128{
		opcode:   IORING_OP_URING_CMD,
		fd:       cmd.FD,
		off:      uint64(cmd.Opcode),
		userData: userData,
	}
	copy(sqe.cmd[:], cmd.Payload)
	return sqe, nil
}

func (r *minimalRing) SubmitCmd(cmd Cmd, userData uint64) (Result, error) {
	logger := logging.Default()
	logger.Debug("preparing URING_CMD", "opcode", cmd.Opcode, "fd", cmd.FD)

	sqe, err := buildSQE(cmd, userData)
	if err != nil {
		return nil, err
	}

	result, err := r.submitAndWait(sqe)
	if err != nil {
		logger.Error("submitAndWait failed", "error", err)
		return nil, fmt.Errorf("failed to submit command: %v", err)
	}

	logger.Debug("URING_CMD completed", "result", result.Value(), "error", result.Error())
	return result, nil
}

// minimalResult implements the Result interface.
type minimalResult struct {
	userData uint64
	value    int32
	err      error
}

func (r *minimalResult) UserData() uint64 { return r.userData }
func (r *minimalResult) Value() int32     { return r.value }
func (r *minimalResult) Error() error     { return r.err }

func (r *minimalRing) PrepareCmd(cmd Cmd, userData uint64) error {
	return fmt.Errorf("PrepareCmd not implemented in minimal ring, use SubmitCmd")
}

func (r *minimalRing) FlushSubmissions() (uint32, error) {
	return 0, fmt.Errorf("FlushSubmissions not implemented in minimal ring")
}

func (r *minimalRing) WaitForCompletion(timeout int) ([]Result, error) {
	// Control operations use the synchronous SubmitCmd path; the
	// asynchronous completion queue is not drained independently here.
	return []Result{}, nil
}

func (r *minimalRing) NewBatch() Batch {
	return &minimalBatch{}
}

// minimalBatch is a placeholder; batching is unimplemented in the
// minimal ring (the iouring-go build handles batches).
type minimalBatch struct{}

func (b *minimalBatch) Add(cmd Cmd, userData uint64) error {
	return fmt.Errorf("batch not implemented in minimal ring")
}

func (b *minimalBatch) Submit() ([]Result, error) {
	return nil, fmt.Errorf("batch not implemented in minimal ring")
}

func (b *minimalBatch) Len() int {
	return 0
}

// submitAndWait submits an SQE and waits for its completion.
func (r *minimalRing) submitAndWait(sqe *sqe128) (Result, error) {
	logger := logging.Default()
	logger.Debug("submitting URING_CMD via io_uring", "fd", sqe.fd, "opcode", sqe.opcode, "user_data", sqe.userData)

	sqHead := (*uint32)(unsafe.Add(r.sqAddr, r.params.sqOff.head))
	sqTail := (*uint32)(unsafe.Add(r.sqAddr, r.params.sqOff.tail))
	sqMask := r.params.sqEntries - 1

	if (*sqTail - *sqHead) >= r.params.sqEntries {
		return nil, ErrRingFull
	}

	sqArray := (*uint32)(unsafe.Add(r.sqAddr, r.params.sqOff.array))
	sqIndex := *sqTail & sqMask
	sqeSlot := unsafe.Add(r.sqAddr, uintptr(128*sqIndex))

	*(*sqe128)(sqeSlot) = *sqe

	*(*uint32)(unsafe.Add(unsafe.Pointer(sqArray), uintptr(4*sqIndex))) = sqIndex

	*sqTail = *sqTail + 1

	submitted, completed, errno := r.submitAndWaitRing(1, 1)
	if errno != 0 {
		logger.Error("io_uring_enter failed", "errno", errno, "submitted", submitted, "completed", completed)
		return nil, fmt.Errorf("io_uring_enter failed: %v", errno)
	}

	logger.Debug("io_uring_enter succeeded", "submitted", submitted, "completed", completed)

	return r.processCompletion()
}

// submitAndWaitRing calls io_uring_enter to submit and wait for completions.
func (r *minimalRing) submitAndWaitRing(toSubmit, minComplete uint32) (submitted, completed uint32, errno syscall.Errno) {
	const IORING_ENTER_GETEVENTS = 1 << 0

	flags := uint32(IORING_ENTER_GETEVENTS)

	r1, r2, err := syscall.Syscall6(
		unix.SYS_IO_URING_ENTER,
		uintptr(r.fd),
		uintptr(toSubmit),
		uintptr(minComplete),
		uintptr(flags),
		0, 0)

	return uint32(r1), uint32(r2), err
}

// processCompletion processes a completion from the CQ ring.
func (r *minimalRing) processCompletion() (Result, error) {
	logger := logging.Default()

	cqHead := (*uint32)(unsafe.Add(r.cqAddr, r.params.cqOff.head))
	cqTail := (*uint32)(unsafe.Add(r.cqAddr, r.params.cqOff.tail))

	if *cqHead == *cqTail {
		return nil, fmt.Errorf("no completions available")
	}

	cqMask := r.params.cqEntries - 1
	cqIndex := *cqHead & cqMask
	cqeSlot := unsafe.Add(r.cqAddr, uintptr(32*cqIndex))
	cqe := (*cqe32)(cqeSlot)

	logger.Debug("processing completion", "user_data", cqe.userData, "res", cqe.res, "flags", cqe.flags)

	result := &minimalResult{
		userData: cqe.userData,
		value:    cqe.res,
	}

	if cqe.res < 0 {
		result.err = syscall.Errno(-cqe.res)
	}

	*cqHead = *cqHead + 1

	return result, nil
}
