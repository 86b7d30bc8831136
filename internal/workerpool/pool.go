package workerpool

import (
	"fmt"
	"time"

	"github.com/anvilfs/zuscore/internal/barrier"
	"github.com/anvilfs/zuscore/internal/constants"
	"github.com/anvilfs/zuscore/internal/dispatch"
	"github.com/anvilfs/zuscore/internal/logging"
	"github.com/anvilfs/zuscore/internal/topology"
	"github.com/anvilfs/zuscore/internal/transport"
)

// Pool owns one ZuThread per (cpu, channel) pair across the whole
// topology (spec component 4.F). It starts every thread, waits for all
// of them to report ready via a shared barrier, and tears every one of
// them down on the first failure rather than leaving partial state
// behind.
type Pool struct {
	topo      *topology.Map
	transport transport.KernelTransport
	dispatch  *dispatch.Dispatcher
	log       *logging.Logger
	channels  int

	threads []*ZuThread
	ready   *barrier.Barrier
}

// New builds a Pool for every possible cpu across channels logical
// pipelines. It does not start any threads.
func New(topo *topology.Map, t transport.KernelTransport, d *dispatch.Dispatcher, log *logging.Logger, channels int) *Pool {
	if channels <= 0 {
		channels = constants.DefaultMaxChannels
	}
	return &Pool{topo: topo, transport: t, dispatch: d, log: log, channels: channels}
}

// Start launches every (cpu, channel) ZuThread and blocks until either
// all of them have installed their thread context or
// constants.PoolStartTimeout elapses. On any failure — a thread's
// Start call erroring, or the readiness barrier timing out — every
// thread started so far is stopped and closed before Start returns an
// error, so a failed Start never leaks a running thread.
func (p *Pool) Start() error {
	numCPUs := p.topo.NumPossibleCPUs()
	total := numCPUs * p.channels
	p.ready = barrier.Init()
	p.ready.Arm(total)

	var started []*ZuThread
	cleanup := func() {
		// ZuThread.Stop only returns once a thread parked in
		// WaitForOperation has been woken, so break the handles first.
		if len(started) > 0 {
			if f, err := p.transport.OpenTempHandle(); err == nil {
				if err := p.transport.BreakAll(f); err != nil {
					p.log.Warn("pool: break all failed during cleanup", "err", err)
				}
				p.transport.Close(f)
			}
		}
		for _, zt := range started {
			zt.Stop()
			if err := zt.Close(); err != nil {
				p.log.Warn("pool: close failed during cleanup", "err", err)
			}
		}
	}

	var startErr error
	p.topo.ForEachCPU(func(cpu, node int) {
		if startErr != nil {
			return
		}
		for ch := 0; ch < p.channels; ch++ {
			zt := New(cpu, ch, node, p.transport, p.dispatch, p.log)
			if err := zt.Start(p.ready); err != nil {
				startErr = err
				return
			}
			started = append(started, zt)
		}
	})
	if startErr != nil {
		cleanup()
		return fmt.Errorf("pool: start: %w", startErr)
	}

	if !p.waitReady(constants.PoolStartTimeout) {
		cleanup()
		return fmt.Errorf("pool: timed out after %s waiting for %d workers to become ready", constants.PoolStartTimeout, total)
	}

	for _, zt := range started {
		if err := zt.StartError(); err != nil {
			cleanup()
			return fmt.Errorf("pool: worker %s failed during startup: %w", zt.Name, err)
		}
	}

	p.threads = started
	return nil
}

func (p *Pool) waitReady(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.ready.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stop breaks every thread's blocked kernel call (via the transport's
// BreakAll against a fresh handle) and joins each thread's goroutine,
// then releases its mapped regions. Stop is idempotent only in the
// sense that calling it twice on an already-stopped pool is a no-op
// past the first call's effect; it is not safe to call concurrently
// with Start.
func (p *Pool) Stop() error {
	if len(p.threads) == 0 {
		return nil
	}

	if f, err := p.transport.OpenTempHandle(); err == nil {
		if err := p.transport.BreakAll(f); err != nil {
			p.log.Warn("pool: break all failed", "err", err)
		}
		p.transport.Close(f)
	} else {
		p.log.Warn("pool: could not open a handle to break all workers", "err", err)
	}

	var firstErr error
	for _, zt := range p.threads {
		zt.Stop()
		if err := zt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.threads = nil
	return firstErr
}

// NumThreads returns the number of running zu-threads, or 0 before
// Start or after Stop.
func (p *Pool) NumThreads() int { return len(p.threads) }

// ThreadNames returns the "ZT(cpu.channel)" name of every running
// thread, in start order.
func (p *Pool) ThreadNames() []string {
	names := make([]string, len(p.threads))
	for i, zt := range p.threads {
		names[i] = zt.Name
	}
	return names
}
