// Package mount implements the Mount Thread (spec component 4.G): the
// single goroutine that owns the MOUNT/UMOUNT/REMOUNT lifecycle and,
// on the first successful MOUNT, starts the worker pool that serves
// every subsequent operation for that filesystem.
package mount

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sys/unix"

	"github.com/anvilfs/zuscore/fsapi"
	"github.com/anvilfs/zuscore/internal/constants"
	"github.com/anvilfs/zuscore/internal/dispatch"
	"github.com/anvilfs/zuscore/internal/logging"
	"github.com/anvilfs/zuscore/internal/topology"
	"github.com/anvilfs/zuscore/internal/transport"
	"github.com/anvilfs/zuscore/internal/wire"
	"github.com/anvilfs/zuscore/internal/workerpool"
	"github.com/anvilfs/zuscore/internal/zmetrics"
)

// MountFunc builds the mounted filesystem's capability set from the
// grabbed pmem region and the kernel's mount message. It is supplied
// by the daemon, never by this package, since only the filesystem
// implementation knows how to read its own superblock out of pmem.
type MountFunc func(region transport.PmemRegion, msg *wire.MountMessage) (*fsapi.Superblock, error)

// UmountFunc releases whatever state MountFunc built.
type UmountFunc func(sbi *fsapi.Superblock) error

// DebugHandler receives DDBG_RD/DDBG_WR mount messages. Concrete
// debug-channel behavior is out of scope; this is an interface point
// only, set via SetDebugHandler. A mount thread with no handler
// installed just logs the message and moves on.
type DebugHandler interface {
	HandleDebug(msg *wire.MountMessage) error
}

// Thread is the process-wide mount-thread singleton. One Thread per
// daemon process; concurrent filesystem mounts within one process are
// not modeled.
type Thread struct {
	transport transport.KernelTransport
	log       *logging.Logger
	channels  int
	onMount   MountFunc
	onUmount  UmountFunc

	mu   sync.Mutex
	topo *topology.Map
	pool *workerpool.Pool
	sbi  *fsapi.Superblock

	// Observer receives per-operation and per-worker metrics from the
	// dispatcher this thread creates on mount. Defaults to a no-op if
	// never set; the daemon wires its own Metrics in via SetObserver.
	observer zmetrics.Observer

	// debug handles DDBG_RD/DDBG_WR mount messages; nil means "log and
	// ignore" (see handle's OpDebugRead/OpDebugWrite case).
	debug DebugHandler

	stop chan struct{}
	done chan struct{}
}

// New builds a mount thread. channels is the number of logical
// request pipelines started per cpu, one zu-thread each (spec's "per
// (cpu, channel) worker"); 0 selects constants.DefaultMaxChannels.
func New(t transport.KernelTransport, log *logging.Logger, channels int, onMount MountFunc, onUmount UmountFunc) *Thread {
	return &Thread{
		transport: t, log: log, channels: channels,
		onMount: onMount, onUmount: onUmount,
		observer: zmetrics.NoOpObserver{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetObserver installs the metrics sink every dispatcher this thread
// creates on a future mount will report to. Must be called before the
// first MOUNT message arrives.
func (m *Thread) SetObserver(o zmetrics.Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// SetDebugHandler installs the handler DDBG_RD/DDBG_WR mount messages
// are routed to. Must be called before Run, or before the first debug
// message arrives if called concurrently with Run.
func (m *Thread) SetDebugHandler(h DebugHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debug = h
}

// Run discovers the topology once, then blocks receiving mount
// lifecycle messages until Stop is called or the transport reports a
// fatal error. It returns when the loop exits; callers typically run
// it in its own goroutine.
func (m *Thread) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	var cpu0 unix.CPUSet
	cpu0.Set(0)
	if err := unix.SchedSetaffinity(0, &cpu0); err != nil {
		m.log.Warn("mount: could not pin mount thread to cpu 0", "err", err)
	}

	topo, err := topology.Init(m.transport)
	if err != nil {
		return fmt.Errorf("mount: topology init: %w", err)
	}
	m.topo = topo

	f, err := m.transport.OpenTempHandle()
	if err != nil {
		return fmt.Errorf("mount: open handle: %w", err)
	}
	defer m.transport.Close(f)

	defer close(m.done)

	// mapped is the real mmap'd region the kernel's ReceiveMount
	// completion writes into; buf aliases its front so UnmarshalMountMessage
	// reads the same memory the kernel populated, not a disconnected copy.
	mapped, err := m.transport.MapOpBuffer(f, constants.DefaultOpBufferSize)
	if err != nil {
		return fmt.Errorf("mount: map op buffer: %w", err)
	}
	defer m.transport.Unmap(mapped)

	buf := mapped[:wire.MountMessageSize]
	for {
		select {
		case <-m.stop:
			return nil
		default:
		}

		if err := m.transport.ReceiveMount(f, buf); err != nil {
			select {
			case <-m.stop:
				return nil
			default:
				m.log.Warn("mount: receive mount message failed", "err", err)
				continue
			}
		}

		msg, err := wire.UnmarshalMountMessage(buf)
		if err != nil {
			m.log.Error("mount: malformed mount message", "err", err)
			continue
		}

		if err := m.handle(msg); err != nil {
			m.log.Error("mount: handling message failed", "kind", msg.Kind, "err", err)
		}
	}
}

func (m *Thread) handle(msg *wire.MountMessage) error {
	switch msg.Kind {
	case wire.OpMount:
		return m.handleMount(msg)
	case wire.OpUmount:
		return m.handleUmount()
	case wire.OpRemount:
		return m.handleRemount()
	case wire.OpDebugRead, wire.OpDebugWrite:
		m.mu.Lock()
		debug := m.debug
		m.mu.Unlock()
		if debug == nil {
			m.log.Debug("mount: debug message received, no handler installed", "kind", msg.Kind)
			return nil
		}
		return debug.HandleDebug(msg)
	default:
		return fmt.Errorf("mount: unrecognized mount message kind %d", msg.Kind)
	}
}

// handleMount grabs the pmem region named by the message and builds
// the superblock via onMount. Per the daemon's single-mount-per-process
// model, a MOUNT received while a filesystem is already mounted does
// not restart the worker pool; it is logged and ignored.
func (m *Thread) handleMount(msg *wire.MountMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sbi != nil {
		m.log.Warn("mount: MOUNT received while already mounted, ignoring")
		return nil
	}

	region, err := m.transport.GrabPmem(msg.PmemKernID, msg.NumBlocks, msg.BlockSize)
	if err != nil {
		return fmt.Errorf("grab pmem: %w", err)
	}

	sbi, err := m.onMount(region, msg)
	if err != nil {
		return fmt.Errorf("filesystem mount hook: %w", err)
	}

	d := dispatch.New(sbi)
	d.Observer = m.observer
	pool := workerpool.New(m.topo, m.transport, d, m.log, m.channels)
	if err := pool.Start(); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	m.sbi = sbi
	m.pool = pool

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		m.log.Debug("mount: systemd notify failed", "err", err)
	}
	return nil
}

func (m *Thread) handleUmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sbi == nil {
		m.log.Warn("mount: UMOUNT received while not mounted, ignoring")
		return nil
	}

	if err := m.pool.Stop(); err != nil {
		m.log.Warn("mount: pool stop failed during umount", "err", err)
	}
	if m.onUmount != nil {
		if err := m.onUmount(m.sbi); err != nil {
			m.log.Warn("mount: umount hook failed", "err", err)
		}
	}
	m.pool = nil
	m.sbi = nil
	return nil
}

// handleRemount dispatches to the mounted filesystem's optional
// remount hook; absence is a silent success.
func (m *Thread) handleRemount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sbi == nil {
		return fmt.Errorf("REMOUNT received while not mounted")
	}
	if ro, ok := m.sbi.Ops.(fsapi.RemountOps); ok {
		return ro.Remount(nil)
	}
	return nil
}

// Stop signals Run's loop to exit and, if a filesystem is currently
// mounted, stops its worker pool first so no zu-thread outlives the
// mount thread.
func (m *Thread) Stop() {
	m.mu.Lock()
	pool := m.pool
	m.mu.Unlock()

	if pool != nil {
		if err := pool.Stop(); err != nil {
			m.log.Warn("mount: pool stop failed during shutdown", "err", err)
		}
	}

	close(m.stop)

	if f, err := m.transport.OpenTempHandle(); err == nil {
		m.transport.BreakAll(f)
		m.transport.Close(f)
	} else {
		m.log.Warn("mount: could not open a handle to break the mount thread", "err", err)
	}

	<-m.done
}

// Mounted reports whether a filesystem is currently mounted.
func (m *Thread) Mounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sbi != nil
}
