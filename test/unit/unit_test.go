// Package unit covers invariants and round-trip/boundary-case
// properties that don't need a running pool or mount thread.
package unit

import (
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	zuscore "github.com/anvilfs/zuscore"
	"github.com/anvilfs/zuscore/fsapi"
	"github.com/anvilfs/zuscore/internal/dispatch"
	"github.com/anvilfs/zuscore/internal/topology"
	"github.com/anvilfs/zuscore/internal/transport"
	"github.com/anvilfs/zuscore/internal/wire"
)

func cpuSet(cpus ...int) unix.CPUSet {
	var set unix.CPUSet
	for _, c := range cpus {
		set.Set(c)
	}
	return set
}

// Scenario 1: a topology map with possible_cpus=4, possible_nodes=2,
// cpu_set_per_node=[{0,1},{2,3}].
func TestTopologyMapScenario(t *testing.T) {
	nm := transport.NumaMap{
		PossibleCPUs:  4,
		PossibleNodes: 2,
		CPUSetPerNode: map[int]unix.CPUSet{0: cpuSet(0, 1), 1: cpuSet(2, 3)},
	}

	m, err := topology.InitFromNumaMap(nm)
	if err != nil {
		t.Fatalf("InitFromNumaMap: %v", err)
	}

	if m.NumPossibleCPUs() != 4 {
		t.Fatalf("NumPossibleCPUs() = %d, want 4", m.NumPossibleCPUs())
	}
	if m.CPUToNode(2) != 1 {
		t.Fatalf("CPUToNode(2) = %d, want 1", m.CPUToNode(2))
	}
	aff := m.AffinityForNode(0)
	if !aff.IsSet(0) || !aff.IsSet(1) || aff.IsSet(2) {
		t.Fatalf("AffinityForNode(0) = %v, want {0,1}", aff)
	}
}

// Boundary case: an operation code outside the routing table does not
// abort the process; Dispatch returns a value in the kernel's errno
// sign convention, the one ErrnoToKernel produces.
func TestUnknownOpcodeIsBoundedNotFatal(t *testing.T) {
	d := dispatch.New(&fsapi.Superblock{Ops: zuscore.NewMemSuperblock()})
	if _, errno := d.Dispatch(&wire.Header{Opcode: 9999, Ino: 1}, nil, nil); errno > 0 {
		t.Fatalf("Dispatch(unknown opcode) errno = %d, kernel sign convention requires <= 0", errno)
	}
	if zuscore.ErrnoToKernel(0) != 0 {
		t.Fatal("ErrnoToKernel(0) should be 0")
	}
	if zuscore.ErrnoToKernel(syscall.EINVAL) >= 0 {
		t.Fatal("ErrnoToKernel must negate a non-zero errno")
	}
}

// Round-trip: ErrnoToKernel/KernelToErrno are inverse on the
// non-negative errno domain.
func TestErrnoKernelSignConventionRoundTrip(t *testing.T) {
	for _, errno := range []syscall.Errno{0, syscall.ENOENT, syscall.EINVAL, syscall.EIO} {
		kernelVal := zuscore.ErrnoToKernel(errno)
		if kernelVal > 0 {
			t.Fatalf("ErrnoToKernel(%v) = %d, kernel sign convention requires <= 0", errno, kernelVal)
		}
		back := zuscore.KernelToErrno(kernelVal)
		if back != errno {
			t.Fatalf("round trip mismatch: errno=%v kernelVal=%d back=%v", errno, kernelVal, back)
		}
	}
}

func TestWireHeaderMarshalRoundTrip(t *testing.T) {
	hdr := &wire.Header{
		Opcode: wire.OpRead, Channel: 3, Ino: 42, Offset: 100, Length: 4096, Arg: 7,
	}
	buf := hdr.Marshal()
	got, err := wire.UnmarshalHeader(buf)
	if err != nil {
		t.Fatalf("UnmarshalHeader: %v", err)
	}
	if got.Opcode != hdr.Opcode || got.Ino != hdr.Ino || got.Offset != hdr.Offset {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, hdr)
	}
}

func TestOpcodeNameUnknownOpcode(t *testing.T) {
	if wire.OpcodeName(9999) != "UNKNOWN" {
		t.Fatalf("OpcodeName(9999) = %q, want UNKNOWN", wire.OpcodeName(9999))
	}
}
