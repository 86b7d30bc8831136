package transport

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// FakeTransport is an in-memory KernelTransport double: no real device
// is opened, and every blocking call is driven by a channel the test
// feeds by hand instead of a real kernel.
type FakeTransport struct {
	mu       sync.Mutex
	NumaResult NumaMap
	Ops      chan []byte // fed by the test; consumed by WaitForOperation
	Mounts   chan []byte // fed by the test; consumed by ReceiveMount
	waitErrs chan error  // fed by InjectWaitError; consumed once per error by WaitForOperation
	broken   chan struct{}
	closed   bool
}

// InjectWaitError arranges for the next call to WaitForOperation
// (across any worker sharing this transport) to fail with err instead
// of blocking on Ops, simulating a transient kernel-side error a
// worker must survive without exiting its loop.
func (f *FakeTransport) InjectWaitError(err error) {
	f.waitErrs <- err
}

// NewFakeTransport builds a FakeTransport reporting a single-node,
// single-cpu topology unless the caller overwrites NumaResult.
func NewFakeTransport() *FakeTransport {
	var set unix.CPUSet
	set.Set(0)
	return &FakeTransport{
		NumaResult: NumaMap{
			PossibleCPUs:  1,
			PossibleNodes: 1,
			CPUSetPerNode: map[int]unix.CPUSet{0: set},
		},
		Ops:      make(chan []byte, 64),
		Mounts:   make(chan []byte, 8),
		waitErrs: make(chan error, 8),
		broken:   make(chan struct{}),
	}
}

func (f *FakeTransport) OpenTempHandle() (*os.File, error) {
	return os.NewFile(^uintptr(0), "fake-handle"), nil
}

func (f *FakeTransport) Close(*os.File) error { return nil }

func (f *FakeTransport) NumaMap(*os.File) (NumaMap, error) {
	return f.NumaResult, nil
}

func (f *FakeTransport) RegisterWorker(*os.File, int, int, uint32) error { return nil }

func (f *FakeTransport) MapAPIRegion(*os.File, int) ([]byte, error) {
	return make([]byte, 4096), nil
}

func (f *FakeTransport) MapOpBuffer(*os.File, int) ([]byte, error) {
	return make([]byte, 64*1024), nil
}

func (f *FakeTransport) Unmap([]byte) error { return nil }

// WaitForOperation blocks on Ops until a test feeds an operation or
// BreakAll is (or already was) called. An error queued by
// InjectWaitError is returned first, without blocking.
func (f *FakeTransport) WaitForOperation(fh *os.File, header []byte) error {
	select {
	case err := <-f.waitErrs:
		return err
	default:
	}

	select {
	case err := <-f.waitErrs:
		return err
	case op := <-f.Ops:
		copy(header, op)
		return nil
	case <-f.broken:
		return os.ErrClosed
	}
}

func (f *FakeTransport) ReceiveMount(fh *os.File, buf []byte) error {
	select {
	case msg := <-f.Mounts:
		copy(buf, msg)
		return nil
	case <-f.broken:
		return os.ErrClosed
	}
}

// BreakAll unblocks every pending WaitForOperation/ReceiveMount call,
// mirroring the real transport's wakeup of kernel-parked workers.
func (f *FakeTransport) BreakAll(*os.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.broken)
		f.closed = true
	}
	return nil
}

func (f *FakeTransport) GrabPmem(kernID uint32, numBlocks uint64, blockSize uint32) (PmemRegion, error) {
	return PmemRegion{
		Data:      make([]byte, numBlocks*uint64(blockSize)),
		NumBlocks: numBlocks,
		BlockSize: blockSize,
	}, nil
}

func (f *FakeTransport) AllocateBuffer(size uint32) ([]byte, error) {
	return make([]byte, size), nil
}

func (f *FakeTransport) Ioctl(*os.File, uintptr, uintptr) error { return nil }

var _ KernelTransport = (*FakeTransport)(nil)
