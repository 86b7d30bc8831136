package zuscore

import (
	"sync"

	"github.com/anvilfs/zuscore/fsapi"
	"github.com/anvilfs/zuscore/internal/transport"
)

// FakeTransport re-exports the in-memory transport.KernelTransport
// double so callers outside internal/ (example filesystems, daemon
// tests) can drive a mount thread and worker pool without a real
// kernel.
type FakeTransport = transport.FakeTransport

// NewFakeTransport builds a FakeTransport reporting a single-node,
// single-cpu topology.
func NewFakeTransport() *FakeTransport { return transport.NewFakeTransport() }

// MemInode is a mock fsapi.InodeOps backed by an in-memory byte slice.
// It tracks call counts so tests can assert on dispatcher behavior
// without a real filesystem.
type MemInode struct {
	mu   sync.RWMutex
	data []byte

	ReadCalls  int
	WriteCalls int
	EvictCalls int
}

// NewMemInode creates a mock inode with an initially empty data file.
func NewMemInode() *MemInode {
	return &MemInode{}
}

func (m *MemInode) Read(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls++

	if off >= int64(len(m.data)) {
		return 0, nil
	}
	return copy(p, m.data[off:]), nil
}

func (m *MemInode) Write(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls++

	need := off + int64(len(p))
	if need > int64(len(m.data)) {
		grown := make([]byte, need)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

func (m *MemInode) Evict(fsapi.EvictOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EvictCalls++
	return nil
}

// Bytes returns a copy of the inode's current contents, for test
// assertions.
func (m *MemInode) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// MemSuperblock is a mock fsapi.SuperblockOps backed by an in-memory
// directory/inode table. It is deliberately minimal — a fixture for
// exercising the dispatcher and worker pool, not a production
// filesystem.
type MemSuperblock struct {
	mu       sync.Mutex
	inodes   map[fsapi.Ino]*MemInode
	dentries map[string]fsapi.Ino
	nextIno  fsapi.Ino
}

// NewMemSuperblock creates a mock superblock with a preallocated root
// inode (ino 1).
func NewMemSuperblock() *MemSuperblock {
	return &MemSuperblock{
		inodes:   map[fsapi.Ino]*MemInode{1: NewMemInode()},
		dentries: map[string]fsapi.Ino{},
		nextIno:  2,
	}
}

func (s *MemSuperblock) Lookup(dir *fsapi.Inode, name string) (fsapi.Ino, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ino, ok := s.dentries[name]
	if !ok {
		return 0, NewError("lookup", ErrCodeNotFound, "no such entry: "+name)
	}
	return ino, nil
}

func (s *MemSuperblock) Iget(ino fsapi.Ino) (fsapi.InodeOps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inodes[ino]
	if !ok {
		return nil, NewError("iget", ErrCodeNotFound, "no such inode")
	}
	return in, nil
}

func (s *MemSuperblock) NewInode(dir *fsapi.Inode, opts fsapi.NewInodeOptions) (fsapi.InodeOps, fsapi.Ino, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ino := s.nextIno
	s.nextIno++
	in := NewMemInode()
	s.inodes[ino] = in
	return in, ino, nil
}

func (s *MemSuperblock) AddDentry(dir *fsapi.Inode, name string, child *fsapi.Inode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dentries[name] = child.Ino
	return nil
}

func (s *MemSuperblock) RemoveDentry(dir *fsapi.Inode, name string, child *fsapi.Inode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dentries, name)
	return nil
}

func (s *MemSuperblock) FreeInode(ii *fsapi.Inode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inodes, ii.Ino)
	return nil
}

var (
	_ fsapi.SuperblockOps = (*MemSuperblock)(nil)
	_ fsapi.InodeOps      = (*MemInode)(nil)
)
