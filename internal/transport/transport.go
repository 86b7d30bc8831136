// Package transport abstracts the kernel's IOCTL/mmap surface behind a
// narrow injected interface so the rest of the dispatch core never
// touches a raw file descriptor. Failure of any of these calls is
// treated as an IoError carrying the platform errno.
package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

// NumaMap is the fixed-layout result of a single topology query.
type NumaMap struct {
	PossibleCPUs  int
	PossibleNodes int
	// CPUSetPerNode[node] is the set of possible cpu indices in that
	// node, as returned by the kernel in one ioctl.
	CPUSetPerNode map[int]unix.CPUSet
}

// PmemRegion is a mapped persistent-memory region for one mount,
// established by GrabPmem.
type PmemRegion struct {
	Data     []byte
	NumBlocks uint64
	BlockSize uint32
}

// KernelTransport is the injected dependency every other component
// (Topology Map, Zu-Thread, Mount Thread) is built against. A Linux
// implementation lives in linux.go; tests use the in-memory Fake in
// fake.go.
type KernelTransport interface {
	// OpenTempHandle opens a fresh, exclusive, read-write handle to
	// the kernel's filesystem root (spec §6 "Kernel handle path").
	OpenTempHandle() (*os.File, error)
	Close(f *os.File) error

	// NumaMap issues the single topology query (spec 4.A init).
	NumaMap(f *os.File) (NumaMap, error)

	// RegisterWorker registers a per-worker handle with the kernel as
	// (cpu, channel) with a declared maximum operation-buffer size.
	RegisterWorker(f *os.File, cpu, channel int, maxOpSize uint32) error

	// MapAPIRegion/MapOpBuffer map the two shared regions a worker
	// owns for its lifetime; Unmap releases either.
	MapAPIRegion(f *os.File, size int) ([]byte, error)
	MapOpBuffer(f *os.File, size int) ([]byte, error)
	Unmap(region []byte) error

	// WaitForOperation blocks until the kernel has populated header
	// with the next request, or returns an error. Per spec 4.E(b),
	// callers must not treat an error here as fatal to the loop.
	WaitForOperation(f *os.File, header []byte) error

	// ReceiveMount blocks until a mount-lifecycle message is
	// available in buf.
	ReceiveMount(f *os.File, buf []byte) error

	// BreakAll unblocks every WaitForOperation/ReceiveMount call
	// pending on handles registered through this transport; it is how
	// stop() wakes workers blocked in the kernel.
	BreakAll(f *os.File) error

	// GrabPmem maps the persistent-memory region for the given
	// pmem_kern_id (spec 4.G MOUNT handling).
	GrabPmem(kernID uint32, numBlocks uint64, blockSize uint32) (PmemRegion, error)

	// AllocateBuffer is an interface point only: concrete fixed-size
	// mapped buffer allocation is not implemented.
	AllocateBuffer(size uint32) ([]byte, error)

	// Ioctl is the generic escape hatch for transport calls that do
	// not warrant their own method.
	Ioctl(f *os.File, cmd uintptr, arg uintptr) error
}
