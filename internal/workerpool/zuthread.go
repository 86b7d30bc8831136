// Package workerpool implements the Zu-Thread (spec component 4.E)
// and the pool that owns a grid of them, one per (cpu, channel) pair
// (spec component 4.F "Worker Pool").
package workerpool

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/anvilfs/zuscore/internal/barrier"
	"github.com/anvilfs/zuscore/internal/constants"
	"github.com/anvilfs/zuscore/internal/dispatch"
	"github.com/anvilfs/zuscore/internal/logging"
	"github.com/anvilfs/zuscore/internal/threadctx"
	"github.com/anvilfs/zuscore/internal/transport"
	"github.com/anvilfs/zuscore/internal/wire"
)

// ZuThread owns one (cpu, channel) worker: a pinned OS thread that
// parks in the kernel transport's WaitForOperation call, dispatches
// whatever operation header the kernel wrote, and loops.
type ZuThread struct {
	CPU     int
	Channel int
	NID     int
	Name    string

	transport transport.KernelTransport
	dispatch  *dispatch.Dispatcher
	log       *logging.Logger

	handle    *os.File
	apiRegion []byte
	opBuffer  []byte

	// startErr records a failure that happened on the pinned goroutine
	// during its setup, which still ends in ready.Release(), so
	// Pool.Start can tell a worker that released the barrier apart from
	// one that actually came up.
	// Written once, before Release(), and read only after the caller's
	// barrier.Wait() returns — the barrier's mutex makes the write
	// visible to that read.
	startErr error

	stop chan struct{}
	done chan struct{}
}

// New builds a ZuThread. Start must be called to actually open the
// kernel handle and begin its loop.
func New(cpu, channel, nid int, t transport.KernelTransport, d *dispatch.Dispatcher, log *logging.Logger) *ZuThread {
	return &ZuThread{
		CPU: cpu, Channel: channel, NID: nid,
		Name:      fmt.Sprintf("ZT(%d.%d)", cpu, channel),
		transport: t, dispatch: d, log: log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start opens this thread's kernel handle, registers it, and maps its
// two shared regions synchronously on the caller's goroutine (so a
// setup failure can be reported and cleaned up by the pool before any
// OS thread is pinned); it then spawns the pinned goroutine that runs
// the blocking loop and calls ready.Release() once that goroutine has
// installed its thread context.
func (z *ZuThread) Start(ready *barrier.Barrier) error {
	f, err := z.transport.OpenTempHandle()
	if err != nil {
		return fmt.Errorf("zuthread[cpu=%d,ch=%d]: open handle: %w", z.CPU, z.Channel, err)
	}

	if err := z.transport.RegisterWorker(f, z.CPU, z.Channel, constants.DefaultOpBufferSize); err != nil {
		z.transport.Close(f)
		return fmt.Errorf("zuthread[cpu=%d,ch=%d]: register: %w", z.CPU, z.Channel, err)
	}

	apiRegion, err := z.transport.MapAPIRegion(f, constants.DefaultAPIRegionSize)
	if err != nil {
		z.transport.Close(f)
		return fmt.Errorf("zuthread[cpu=%d,ch=%d]: map api region: %w", z.CPU, z.Channel, err)
	}

	opBuffer, err := z.transport.MapOpBuffer(f, constants.DefaultOpBufferSize)
	if err != nil {
		z.transport.Unmap(apiRegion)
		z.transport.Close(f)
		return fmt.Errorf("zuthread[cpu=%d,ch=%d]: map op buffer: %w", z.CPU, z.Channel, err)
	}

	z.handle = f
	z.apiRegion = apiRegion
	z.opBuffer = opBuffer

	go z.run(ready)
	return nil
}

// StartError returns the error this worker's goroutine recorded just
// before releasing the readiness barrier, or nil if it came up cleanly. Only
// meaningful after the barrier this worker was started with has been
// waited on.
func (z *ZuThread) StartError() error { return z.startErr }

// Stop signals the loop to exit and waits for its goroutine to return.
// The caller must have already broken the kernel handle (transport's
// BreakAll) so a thread parked in WaitForOperation wakes up.
func (z *ZuThread) Stop() {
	close(z.stop)
	<-z.done
}

// Close releases this thread's mapped regions and kernel handle. Only
// valid after Stop has returned.
func (z *ZuThread) Close() error {
	if err := z.transport.Unmap(z.opBuffer); err != nil {
		return err
	}
	if err := z.transport.Unmap(z.apiRegion); err != nil {
		return err
	}
	return z.transport.Close(z.handle)
}

func (z *ZuThread) run(ready *barrier.Barrier) {
	defer close(z.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var set unix.CPUSet
	set.Set(z.CPU)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		z.log.Warn("zuthread: could not set cpu affinity", "cpu", z.CPU, "err", err)
	}

	ctx := threadctx.Create(z.CPU, z.NID)
	if err := threadctx.ThreadCurrentInit(ctx); err != nil {
		z.log.Error("zuthread: thread context already initialized", "cpu", z.CPU, "channel", z.Channel, "err", err)
		z.startErr = err
		ready.Release()
		return
	}
	defer threadctx.ThreadCurrentFini()

	z.dispatch.Observer.ObserveWorkerStart()
	defer z.dispatch.Observer.ObserveWorkerStop()

	ready.Release()

	// header aliases the front of the mapped op buffer itself, the same
	// memory the kernel's URING_CMD completion writes into directly —
	// not a buffer of our own that nothing ever fills.
	header := z.opBuffer[:wire.HeaderSize]
	for {
		select {
		case <-z.stop:
			return
		default:
		}

		if err := z.transport.WaitForOperation(z.handle, header); err != nil {
			// Per spec 4.E(b), a transport error here is not fatal to
			// the loop: log and retry unless a stop was requested
			// concurrently.
			select {
			case <-z.stop:
				return
			default:
				z.log.Warn("zuthread: wait for operation failed", "cpu", z.CPU, "channel", z.Channel, "err", err)
				continue
			}
		}

		z.handleOne(header)
	}
}

func (z *ZuThread) handleOne(header []byte) {
	hdr, err := wire.UnmarshalHeader(header)
	if err != nil {
		z.log.Error("zuthread: malformed operation header", "cpu", z.CPU, "channel", z.Channel, "err", err)
		return
	}
	hdr.Channel = uint16(z.Channel)

	payload := z.opBuffer[wire.HeaderSize:]
	out := payload
	usedOverflow := false
	if int(hdr.Length) > len(payload) {
		out = GetOverflowBuffer(uint32(hdr.Length))
		usedOverflow = true
	}

	_, errno := z.dispatch.Dispatch(hdr, payload, out)
	hdr.Errno = errno
	copy(z.opBuffer, hdr.Marshal())
	if usedOverflow {
		copy(payload, out)
		PutOverflowBuffer(out)
	}
}
