package uring

import (
	"testing"
)

func TestNewRing(t *testing.T) {
	config := Config{
		Entries: 32,
		FD:      -1,
		Flags:   0,
	}

	ring, err := NewRing(config)
	if err != nil {
		t.Fatalf("NewRing failed: %v", err)
	}
	defer ring.Close()

	if ring == nil {
		t.Error("ring is nil")
	}
}

func TestSubmitCmd(t *testing.T) {
	config := Config{
		Entries: 16,
		FD:      -1,
		Flags:   0,
	}

	ring, err := NewRing(config)
	if err != nil {
		t.Fatalf("NewRing failed: %v", err)
	}
	defer ring.Close()

	cmd := Cmd{
		FD:      -1,
		Opcode:  1,
		Payload: []byte{0x2a, 0x00, 0x00, 0x00},
	}

	result, err := ring.SubmitCmd(cmd, 123)
	if err != nil {
		t.Errorf("SubmitCmd failed: %v", err)
	}

	if result.UserData() != 123 {
		t.Errorf("UserData = %d, want 123", result.UserData())
	}
}

func TestSubmitCmdPayloadTooLarge(t *testing.T) {
	config := Config{Entries: 16, FD: -1}
	ring, err := NewRing(config)
	if err != nil {
		t.Fatalf("NewRing failed: %v", err)
	}
	defer ring.Close()

	cmd := Cmd{FD: -1, Opcode: 1, Payload: make([]byte, 81)}
	if _, err := ring.SubmitCmd(cmd, 1); err == nil {
		t.Error("expected error for oversized command payload, got nil")
	}
}

func TestBatchOperations(t *testing.T) {
	config := Config{
		Entries: 16,
		FD:      -1,
		Flags:   0,
	}

	ring, err := NewRing(config)
	if err != nil {
		t.Fatalf("NewRing failed: %v", err)
	}
	defer ring.Close()

	batch := ring.NewBatch()

	if err := batch.Add(Cmd{FD: -1, Opcode: 1}, 1); err == nil {
		t.Log("minimal ring batch accepted an Add; giouring build would succeed here too")
	}

	// The minimal ring has no batch support; Len should remain at whatever
	// the implementation tracks for unimplemented adds (zero).
	_ = batch.Len()
}

func TestFeatureDetection(t *testing.T) {
	err := SupportsFeatures()
	if err != nil {
		t.Logf("Features not supported: %v", err)
		return
	}

	features, err := GetFeatures()
	if err != nil {
		t.Fatalf("GetFeatures failed: %v", err)
	}

	if !features.SQE128 {
		t.Error("SQE128 should be supported")
	}
	if !features.CQE32 {
		t.Error("CQE32 should be supported")
	}
	if !features.UringCmd {
		t.Error("UringCmd should be supported")
	}

	t.Logf("Features: SQE128=%t, CQE32=%t, UringCmd=%t, SQPOLL=%t",
		features.SQE128, features.CQE32, features.UringCmd, features.SQPOLL)
}

func BenchmarkSubmitCmd(b *testing.B) {
	config := Config{
		Entries: 64,
		FD:      -1,
		Flags:   0,
	}

	ring, err := NewRing(config)
	if err != nil {
		b.Fatalf("NewRing failed: %v", err)
	}
	defer ring.Close()

	cmd := Cmd{FD: -1, Opcode: 1, Payload: []byte{0x2a, 0, 0, 0}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ring.SubmitCmd(cmd, uint64(i)); err != nil {
			b.Fatalf("SubmitCmd failed: %v", err)
		}
	}
}
