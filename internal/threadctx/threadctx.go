// Package threadctx emulates the zufs thread-local "current" context
// (spec components 4.B "Thread Context" and 4.C "Worker Factory").
// Go has no native TLS, but every zu-thread pins itself to one OS
// thread with runtime.LockOSThread, so the kernel tid returned by
// unix.Gettid is a stable key for the lifetime of that goroutine.
package threadctx

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/anvilfs/zuscore/internal/zerrors"
)

// Context is the per-thread state a zu-thread carries for its entire
// lifetime: which CPU/node it was pinned to, and a slot for
// filesystem-private data (the zufs "private" pointer).
type Context struct {
	CPU     int
	NID     int
	private any
}

var (
	mu      sync.RWMutex
	current = map[int]*Context{} // kernel tid -> context
)

// Create builds a new Context for the given cpu/node without
// installing it as the calling thread's current context. Used by the
// worker factory before a zu-thread's goroutine has started running
// on its pinned OS thread.
func Create(cpu, nid int) *Context {
	return &Context{CPU: cpu, NID: nid}
}

// ThreadCurrentInit installs ctx as the calling goroutine's current
// context. The caller must already be pinned via runtime.LockOSThread.
// Calling this twice for the same OS thread without an intervening
// ThreadCurrentFini returns AlreadyExists, mirroring the zufs
// assertion that a thread never re-registers itself.
func ThreadCurrentInit(ctx *Context) error {
	tid := unix.Gettid()

	mu.Lock()
	defer mu.Unlock()
	if _, exists := current[tid]; exists {
		return zerrors.NewError("ThreadCurrentInit", zerrors.ErrCodeAlreadyExists,
			"thread context already initialized for this OS thread")
	}
	current[tid] = ctx
	return nil
}

// ThreadCurrentFini removes the calling goroutine's current context.
func ThreadCurrentFini() {
	tid := unix.Gettid()
	mu.Lock()
	defer mu.Unlock()
	delete(current, tid)
}

// ThreadSelf returns the calling goroutine's current context, or nil
// if ThreadCurrentInit was never called for this OS thread.
func ThreadSelf() *Context {
	tid := unix.Gettid()
	mu.RLock()
	defer mu.RUnlock()
	return current[tid]
}

// CurrentCPU returns the calling thread's pinned CPU. If warn is true
// and no context is installed, it logs via the caller-supplied logger
// instead of panicking; absent a context it returns -1.
func CurrentCPU(warn bool, warnf func(string, ...any)) int {
	ctx := ThreadSelf()
	if ctx == nil {
		if warn && warnf != nil {
			warnf("CurrentCPU called with no thread context installed")
		}
		return -1
	}
	return ctx.CPU
}

// CurrentNID returns the calling thread's pinned NUMA node, or -1.
func CurrentNID() int {
	ctx := ThreadSelf()
	if ctx == nil {
		return -1
	}
	return ctx.NID
}

// CurrentOneCPU reports whether the calling thread's context is pinned
// to exactly one CPU (as opposed to a node-wide affinity mask).
func CurrentOneCPU() bool {
	ctx := ThreadSelf()
	return ctx != nil && ctx.CPU >= 0
}

// PrivateGet returns the filesystem-private value stashed on the
// calling thread's context, or nil.
func PrivateGet() any {
	ctx := ThreadSelf()
	if ctx == nil {
		return nil
	}
	return ctx.private
}

// PrivateSet stashes a filesystem-private value on the calling
// thread's context.
func PrivateSet(v any) {
	ctx := ThreadSelf()
	if ctx == nil {
		return
	}
	ctx.private = v
}
