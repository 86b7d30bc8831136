package zuscore

import (
	"fmt"
	"sync"

	"github.com/anvilfs/zuscore/internal/logging"
	"github.com/anvilfs/zuscore/internal/mount"
	"github.com/anvilfs/zuscore/internal/transport"
)

// State describes the lifecycle phase of a Daemon.
type State string

const (
	// StateCreated means New has returned but Start has not been called.
	StateCreated State = "created"
	// StateRunning means the mount thread is live, waiting for (or
	// already serving) a mounted filesystem.
	StateRunning State = "running"
	// StateStopped means Stop has completed.
	StateStopped State = "stopped"
)

// Daemon is the process-wide object that owns the three singletons a
// zuscore process needs: the kernel transport, the mount thread (which
// in turn owns the topology map and the worker pool once a filesystem
// is mounted), and the ambient metrics/logging.
type Daemon struct {
	cfg       Config
	log       *logging.Logger
	metrics   *Metrics
	transport transport.KernelTransport
	mount     *mount.Thread

	mu    sync.Mutex
	state State
	runCh chan error
}

// New constructs a Daemon around onMount/onUmount — the filesystem
// implementation's hooks for building and releasing its superblock
// from a grabbed pmem region. Passing a nil transport makes New open a
// real LinuxTransport rooted at cfg.RootPath; tests typically pass a
// *FakeTransport instead.
func New(cfg Config, t transport.KernelTransport, onMount mount.MountFunc, onUmount mount.UmountFunc) (*Daemon, error) {
	if t == nil {
		lt, err := transport.NewLinuxTransport(cfg.RootPath)
		if err != nil {
			return nil, fmt.Errorf("zuscore: open transport: %w", err)
		}
		t = lt
	}

	log := logging.NewLogger(&logging.Config{Level: cfg.LogLevel})
	metrics := NewMetrics()

	d := &Daemon{
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		transport: t,
		state:     StateCreated,
	}
	d.mount = mount.New(t, log, cfg.Channels, onMount, onUmount)
	d.mount.SetObserver(NewMetricsObserver(metrics))
	return d, nil
}

// Start launches the mount thread in its own goroutine and returns
// without waiting for it to begin receiving mount messages. The daemon
// stays in StateRunning
// for its entire lifetime thereafter — mounting and unmounting a
// filesystem do not change the daemon's own state, only the mount
// thread's internal Mounted() flag.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateCreated {
		return NewError("Start", ErrCodeAlreadyExists, "daemon already started")
	}

	d.runCh = make(chan error, 1)
	go func() {
		d.runCh <- d.mount.Run()
	}()

	d.state = StateRunning
	d.log.Info("zuscore: daemon started", "root", d.cfg.RootPath, "channels", d.cfg.Channels)
	return nil
}

// Stop tears down the mount thread (and, transitively, any running
// worker pool) and waits for Start's goroutine to exit.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopped
	d.mu.Unlock()

	d.mount.Stop()

	var runErr error
	if d.runCh != nil {
		runErr = <-d.runCh
	}
	d.log.Info("zuscore: daemon stopped")
	return runErr
}

// State reports the daemon's current lifecycle phase.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Mounted reports whether a filesystem is currently mounted.
func (d *Daemon) Mounted() bool {
	return d.mount.Mounted()
}

// Metrics returns the daemon's ambient metrics sink. Pass it to
// dispatch.New's callers (via Observer) to have operation counts and
// latencies recorded.
func (d *Daemon) Metrics() *Metrics {
	return d.metrics
}

// MetricsSnapshot returns a point-in-time copy of the daemon's
// counters, suitable for exposing over a debug endpoint.
func (d *Daemon) MetricsSnapshot() MetricsSnapshot {
	return d.metrics.Snapshot()
}

// Info summarizes the daemon's current status for introspection
// tooling (a debug CLI, a health-check handler).
type Info struct {
	State    State  `json:"state"`
	RootPath string `json:"root_path"`
	Mounted  bool   `json:"mounted"`
	Channels int    `json:"channels"`
}

// Info returns a snapshot of the daemon's current status.
func (d *Daemon) Info() Info {
	return Info{
		State:    d.State(),
		RootPath: d.cfg.RootPath,
		Mounted:  d.Mounted(),
		Channels: d.cfg.Channels,
	}
}
