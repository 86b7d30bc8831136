package mount

import (
	"testing"
	"time"

	"github.com/anvilfs/zuscore/fsapi"
	"github.com/anvilfs/zuscore/internal/logging"
	"github.com/anvilfs/zuscore/internal/transport"
	"github.com/anvilfs/zuscore/internal/wire"
)

type stubFS struct{ remounted bool }

func (s *stubFS) Lookup(*fsapi.Inode, string) (fsapi.Ino, error) { return 0, nil }
func (s *stubFS) Iget(fsapi.Ino) (fsapi.InodeOps, error)         { return stubInode{}, nil }
func (s *stubFS) NewInode(*fsapi.Inode, fsapi.NewInodeOptions) (fsapi.InodeOps, fsapi.Ino, error) {
	return stubInode{}, 1, nil
}
func (s *stubFS) AddDentry(*fsapi.Inode, string, *fsapi.Inode) error    { return nil }
func (s *stubFS) RemoveDentry(*fsapi.Inode, string, *fsapi.Inode) error { return nil }
func (s *stubFS) FreeInode(*fsapi.Inode) error                          { return nil }
func (s *stubFS) Remount(map[string]string) error                      { s.remounted = true; return nil }

type stubInode struct{}

func (stubInode) Read([]byte, int64) (int, error)  { return 0, nil }
func (stubInode) Write([]byte, int64) (int, error) { return 0, nil }
func (stubInode) Evict(fsapi.EvictOptions) error    { return nil }

func newTestThread(t *testing.T) (*Thread, *transport.FakeTransport, *stubFS) {
	t.Helper()
	ft := transport.NewFakeTransport()
	log := logging.NewLogger(&logging.Config{Level: logging.LevelError})
	fs := &stubFS{}

	onMount := func(region transport.PmemRegion, msg *wire.MountMessage) (*fsapi.Superblock, error) {
		return &fsapi.Superblock{Ops: fs}, nil
	}
	onUmount := func(sbi *fsapi.Superblock) error { return nil }

	th := New(ft, log, 1, onMount, onUmount)
	return th, ft, fs
}

func TestMountThreadMountAndUnmount(t *testing.T) {
	th, ft, _ := newTestThread(t)

	go th.Run()
	defer th.Stop()

	mountMsg := &wire.MountMessage{Kind: wire.OpMount, PmemKernID: 1, NumBlocks: 4, BlockSize: 4096}
	ft.Mounts <- mountMsg.Marshal()

	waitFor(t, func() bool { return th.Mounted() })

	umountMsg := &wire.MountMessage{Kind: wire.OpUmount}
	ft.Mounts <- umountMsg.Marshal()

	waitFor(t, func() bool { return !th.Mounted() })
}

func TestMountThreadRemountInvokesHook(t *testing.T) {
	th, ft, fs := newTestThread(t)

	go th.Run()
	defer th.Stop()

	mountMsg := &wire.MountMessage{Kind: wire.OpMount, PmemKernID: 1, NumBlocks: 1, BlockSize: 4096}
	ft.Mounts <- mountMsg.Marshal()
	waitFor(t, func() bool { return th.Mounted() })

	remountMsg := &wire.MountMessage{Kind: wire.OpRemount}
	ft.Mounts <- remountMsg.Marshal()

	waitFor(t, func() bool { return fs.remounted })
}

type stubDebugHandler struct{ calls int }

func (h *stubDebugHandler) HandleDebug(msg *wire.MountMessage) error {
	h.calls++
	return nil
}

func TestMountThreadRoutesDebugMessagesToHandler(t *testing.T) {
	th, ft, _ := newTestThread(t)

	handler := &stubDebugHandler{}
	th.SetDebugHandler(handler)

	go th.Run()
	defer th.Stop()

	ft.Mounts <- (&wire.MountMessage{Kind: wire.OpDebugRead}).Marshal()
	waitFor(t, func() bool { return handler.calls == 1 })

	ft.Mounts <- (&wire.MountMessage{Kind: wire.OpDebugWrite}).Marshal()
	waitFor(t, func() bool { return handler.calls == 2 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
