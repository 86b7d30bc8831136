package workerpool

import (
	"testing"
	"time"

	"github.com/anvilfs/zuscore/fsapi"
	"github.com/anvilfs/zuscore/internal/dispatch"
	"github.com/anvilfs/zuscore/internal/logging"
	"github.com/anvilfs/zuscore/internal/topology"
	"github.com/anvilfs/zuscore/internal/transport"
	"github.com/anvilfs/zuscore/internal/wire"
	"github.com/anvilfs/zuscore/internal/zmetrics"
)

type nullFS struct{}

func (nullFS) Lookup(*fsapi.Inode, string) (fsapi.Ino, error) { return 1, nil }
func (nullFS) Iget(fsapi.Ino) (fsapi.InodeOps, error)         { return nullInode{}, nil }
func (nullFS) NewInode(*fsapi.Inode, fsapi.NewInodeOptions) (fsapi.InodeOps, fsapi.Ino, error) {
	return nullInode{}, 2, nil
}
func (nullFS) AddDentry(*fsapi.Inode, string, *fsapi.Inode) error    { return nil }
func (nullFS) RemoveDentry(*fsapi.Inode, string, *fsapi.Inode) error { return nil }
func (nullFS) FreeInode(*fsapi.Inode) error                          { return nil }

type nullInode struct{}

func (nullInode) Read(p []byte, off int64) (int, error)  { return 0, nil }
func (nullInode) Write(p []byte, off int64) (int, error) { return len(p), nil }
func (nullInode) Evict(fsapi.EvictOptions) error          { return nil }

func newTestPool(t *testing.T) (*Pool, *transport.FakeTransport) {
	t.Helper()
	ft := transport.NewFakeTransport()
	sbi := &fsapi.Superblock{Ops: nullFS{}}
	d := dispatch.New(sbi)
	log := logging.NewLogger(&logging.Config{Level: logging.LevelError})
	topo, err := topology.InitFromNumaMap(ft.NumaResult)
	if err != nil {
		t.Fatalf("InitFromNumaMap: %v", err)
	}
	p := New(topo, ft, d, log, 1)
	return p, ft
}

func TestZuThreadProcessesOneOperation(t *testing.T) {
	p, ft := newTestPool(t)
	m := zmetrics.NewMetrics()
	p.dispatch.Observer = zmetrics.NewMetricsObserver(m)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	hdr := &wire.Header{Opcode: wire.OpRead, Ino: 1, Length: 0}
	ft.Ops <- hdr.Marshal()

	time.Sleep(50 * time.Millisecond)

	if p.NumThreads() != 1 {
		t.Fatalf("NumThreads = %d, want 1", p.NumThreads())
	}
	if got := m.Snapshot().TotalOps; got != 1 {
		t.Fatalf("dispatched ops = %d, want 1", got)
	}
}

func TestPoolStopIsIdempotent(t *testing.T) {
	p, _ := newTestPool(t)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
