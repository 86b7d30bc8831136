package transport

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/anvilfs/zuscore/internal/constants"
	"github.com/anvilfs/zuscore/internal/uring"
	"github.com/anvilfs/zuscore/internal/wire"
)

// ioctl command numbers for the zuf control device. These mirror the
// ZU_IOC_* family zufs's zus-core.c issues against /sys/fs/zuf; they
// are not derived from a vendored kernel header since this module
// targets the char-device/URING_CMD control plane rather than a
// specific kernel build.
const (
	iocNumaMap       = 0x5a01
	iocRegisterWorker = 0x5a02
	iocGrabPmem      = 0x5a03
	iocBreakAll      = 0x5a04
)

// linuxNumaMapResult is the fixed-layout ioctl argument for iocNumaMap.
// The kernel fills possibleCPUs/possibleNodes and a flat cpu->node
// array the caller pre-sizes to its own guess at NR_CPUS.
type linuxNumaMapResult struct {
	PossibleCPUs  uint32
	PossibleNodes uint32
	CPUToNode     [1024]int32 // -1 where a cpu slot is unused
}

// LinuxTransport is the production KernelTransport: ioctls for control
// calls, URING_CMD (via internal/uring.Ring) for the blocking
// wait/receive calls a zu-thread parks in.
type LinuxTransport struct {
	rootPath string
	ring     uring.Ring
}

// NewLinuxTransport creates the io_uring ring up front and opens no
// kernel handle; rootPath is the zuf control filesystem mountpoint
// (default "/sys/fs/zuf").
func NewLinuxTransport(rootPath string) (*LinuxTransport, error) {
	ring, err := uring.NewRing(uring.Config{Entries: 64})
	if err != nil {
		return nil, fmt.Errorf("transport: create ring: %w", err)
	}
	return &LinuxTransport{rootPath: rootPath, ring: ring}, nil
}

func (t *LinuxTransport) OpenTempHandle() (*os.File, error) {
	f, err := os.OpenFile(t.rootPath, os.O_RDWR|unix.O_TMPFILE|os.O_EXCL, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (t *LinuxTransport) Close(f *os.File) error {
	return f.Close()
}

func (t *LinuxTransport) NumaMap(f *os.File) (NumaMap, error) {
	var raw linuxNumaMapResult
	if err := t.ioctlPtr(f, iocNumaMap, unsafe.Pointer(&raw)); err != nil {
		return NumaMap{}, err
	}

	nm := NumaMap{
		PossibleCPUs:  int(raw.PossibleCPUs),
		PossibleNodes: int(raw.PossibleNodes),
		CPUSetPerNode: make(map[int]unix.CPUSet),
	}
	for cpu := 0; cpu < nm.PossibleCPUs && cpu < len(raw.CPUToNode); cpu++ {
		node := int(raw.CPUToNode[cpu])
		if node < 0 {
			continue
		}
		set := nm.CPUSetPerNode[node]
		set.Set(cpu)
		nm.CPUSetPerNode[node] = set
	}
	return nm, nil
}

// linuxRegisterWorker is the fixed-layout ioctl argument for
// iocRegisterWorker.
type linuxRegisterWorker struct {
	CPU       int32
	Channel   int32
	MaxOpSize uint32
}

func (t *LinuxTransport) RegisterWorker(f *os.File, cpu, channel int, maxOpSize uint32) error {
	arg := linuxRegisterWorker{CPU: int32(cpu), Channel: int32(channel), MaxOpSize: maxOpSize}
	return t.ioctlPtr(f, iocRegisterWorker, unsafe.Pointer(&arg))
}

func (t *LinuxTransport) MapAPIRegion(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (t *LinuxTransport) MapOpBuffer(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), int64(constants.DefaultAPIRegionSize), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (t *LinuxTransport) Unmap(region []byte) error {
	return unix.Munmap(region)
}

// WaitForOperation submits a URING_CMD and blocks until the kernel
// completes it with the next operation header written into header.
func (t *LinuxTransport) WaitForOperation(f *os.File, header []byte) error {
	cmd := uring.Cmd{FD: int32(f.Fd()), Opcode: uint32(wire.OpRead)}
	result, err := t.ring.SubmitCmd(cmd, 0)
	if err != nil {
		return err
	}
	if result.Value() < 0 {
		return result.Error()
	}
	return nil
}

func (t *LinuxTransport) ReceiveMount(f *os.File, buf []byte) error {
	cmd := uring.Cmd{FD: int32(f.Fd()), Opcode: uint32(wire.OpMount)}
	result, err := t.ring.SubmitCmd(cmd, 0)
	if err != nil {
		return err
	}
	if result.Value() < 0 {
		return result.Error()
	}
	return nil
}

func (t *LinuxTransport) BreakAll(f *os.File) error {
	return t.ioctlInt(f, iocBreakAll, 0)
}

// linuxGrabPmem is the fixed-layout ioctl argument for iocGrabPmem.
type linuxGrabPmem struct {
	KernID    uint32
	NumBlocks uint64
	BlockSize uint32
	Addr      uint64 // filled by kernel: mmap-able offset for PmemRegion.Data
}

func (t *LinuxTransport) GrabPmem(kernID uint32, numBlocks uint64, blockSize uint32) (PmemRegion, error) {
	f, err := t.OpenTempHandle()
	if err != nil {
		return PmemRegion{}, err
	}
	defer t.Close(f)

	arg := linuxGrabPmem{KernID: kernID, NumBlocks: numBlocks, BlockSize: blockSize}
	if err := t.ioctlPtr(f, iocGrabPmem, unsafe.Pointer(&arg)); err != nil {
		return PmemRegion{}, err
	}

	size := int(numBlocks * uint64(blockSize))
	data, err := unix.Mmap(int(f.Fd()), int64(arg.Addr), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return PmemRegion{}, err
	}
	return PmemRegion{Data: data, NumBlocks: numBlocks, BlockSize: blockSize}, nil
}

// AllocateBuffer is an interface point only: this module does not
// implement the fixed-size mapped-buffer allocator.
func (t *LinuxTransport) AllocateBuffer(size uint32) ([]byte, error) {
	return nil, fmt.Errorf("transport: AllocateBuffer not implemented")
}

func (t *LinuxTransport) Ioctl(f *os.File, cmd uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), cmd, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func (t *LinuxTransport) ioctlPtr(f *os.File, cmd uintptr, arg unsafe.Pointer) error {
	return t.Ioctl(f, cmd, uintptr(arg))
}

func (t *LinuxTransport) ioctlInt(f *os.File, cmd uintptr, arg uintptr) error {
	return t.Ioctl(f, cmd, arg)
}

var _ KernelTransport = (*LinuxTransport)(nil)
