package threadctx

import (
	"runtime"
	"testing"

	"github.com/anvilfs/zuscore/internal/zerrors"
)

func TestThreadCurrentInitFini(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer ThreadCurrentFini()

	ctx := Create(2, 0)
	if err := ThreadCurrentInit(ctx); err != nil {
		t.Fatalf("ThreadCurrentInit: %v", err)
	}

	if got := ThreadSelf(); got != ctx {
		t.Errorf("ThreadSelf() = %v, want %v", got, ctx)
	}
	if CurrentNID() != 0 {
		t.Errorf("CurrentNID() = %d, want 0", CurrentNID())
	}
	if CurrentCPU(false, nil) != 2 {
		t.Errorf("CurrentCPU() = %d, want 2", CurrentCPU(false, nil))
	}
}

func TestThreadCurrentInitDoubleInit(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer ThreadCurrentFini()

	if err := ThreadCurrentInit(Create(0, 0)); err != nil {
		t.Fatalf("first ThreadCurrentInit: %v", err)
	}
	err := ThreadCurrentInit(Create(0, 0))
	if err == nil {
		t.Fatal("expected AlreadyExists on double init")
	}
	if !zerrors.IsCode(err, zerrors.ErrCodeAlreadyExists) {
		t.Errorf("expected ErrCodeAlreadyExists, got %v", err)
	}
}

func TestThreadSelfWithoutInit(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if ThreadSelf() != nil {
		t.Error("ThreadSelf() should be nil before ThreadCurrentInit")
	}
	if CurrentCPU(false, nil) != -1 {
		t.Error("CurrentCPU() should be -1 with no context")
	}
	if CurrentNID() != -1 {
		t.Error("CurrentNID() should be -1 with no context")
	}
}

func TestPrivateGetSet(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer ThreadCurrentFini()

	if err := ThreadCurrentInit(Create(0, 0)); err != nil {
		t.Fatalf("ThreadCurrentInit: %v", err)
	}

	PrivateSet("hello")
	if got := PrivateGet(); got != "hello" {
		t.Errorf("PrivateGet() = %v, want hello", got)
	}
}
