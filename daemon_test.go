package zuscore

import (
	"testing"
	"time"

	"github.com/anvilfs/zuscore/fsapi"
	"github.com/anvilfs/zuscore/internal/transport"
	"github.com/anvilfs/zuscore/internal/wire"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Channels = 1
	return cfg
}

func TestDaemonStartStop(t *testing.T) {
	ft := NewFakeTransport()
	sbi := NewMemSuperblock()

	onMount := func(region transport.PmemRegion, msg *wire.MountMessage) (*fsapi.Superblock, error) {
		return &fsapi.Superblock{Ops: sbi}, nil
	}
	onUmount := func(*fsapi.Superblock) error { return nil }

	d, err := New(testConfig(), ft, onMount, onUmount)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if d.State() != StateRunning {
		t.Fatalf("expected StateRunning, got %v", d.State())
	}

	if err := d.Start(); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestDaemonMountLifecycle(t *testing.T) {
	ft := NewFakeTransport()
	sbi := NewMemSuperblock()

	onMount := func(region transport.PmemRegion, msg *wire.MountMessage) (*fsapi.Superblock, error) {
		return &fsapi.Superblock{Ops: sbi}, nil
	}
	onUmount := func(*fsapi.Superblock) error { return nil }

	d, err := New(testConfig(), ft, onMount, onUmount)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	mountMsg := &wire.MountMessage{Kind: wire.OpMount, PmemKernID: 1, NumBlocks: 4, BlockSize: 4096}
	ft.Mounts <- mountMsg.Marshal()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !d.Mounted() {
		time.Sleep(5 * time.Millisecond)
	}
	if !d.Mounted() {
		t.Fatal("daemon never reported mounted")
	}

	info := d.Info()
	if !info.Mounted {
		t.Fatal("Info().Mounted should be true")
	}

	umountMsg := &wire.MountMessage{Kind: wire.OpUmount}
	ft.Mounts <- umountMsg.Marshal()

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && d.Mounted() {
		time.Sleep(5 * time.Millisecond)
	}
	if d.Mounted() {
		t.Fatal("daemon still reports mounted after umount")
	}
}

func TestDaemonMetricsSnapshot(t *testing.T) {
	ft := NewFakeTransport()
	onMount := func(region transport.PmemRegion, msg *wire.MountMessage) (*fsapi.Superblock, error) {
		return &fsapi.Superblock{Ops: NewMemSuperblock()}, nil
	}
	d, err := New(testConfig(), ft, onMount, func(*fsapi.Superblock) error { return nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := d.MetricsSnapshot()
	if snap.TotalOps != 0 {
		t.Fatalf("expected zero ops on a fresh daemon, got %d", snap.TotalOps)
	}
}
