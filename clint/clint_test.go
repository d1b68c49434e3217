package clint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Readm/hart_sim/core"
)

func TestRaiseAndClear(t *testing.T) {
	c := New(core.DefaultHartCount)
	if err := c.Raise(2); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if !c.Pending(2) {
		t.Fatalf("expected hart 2 pending")
	}
	if c.Pending(1) || c.Pending(3) {
		t.Fatalf("raise must be directed at a single hart")
	}
	if err := c.ClearPending(2); err != nil {
		t.Fatalf("ClearPending: %v", err)
	}
	if c.Pending(2) {
		t.Fatalf("expected hart 2 clear")
	}
}

func TestClearOfClearBitIsNoop(t *testing.T) {
	c := New(core.DefaultHartCount)
	_ = c.SetEnableMask(1, SourceSoftware)
	gen := c.Generation(1)
	for i := 0; i < 3; i++ {
		if err := c.ClearPending(1); err != nil {
			t.Fatalf("clear #%d returned error: %v", i, err)
		}
	}
	if c.Pending(1) || c.Deliverable(1) {
		t.Fatalf("clearing a clear bit must not set it")
	}
	if !c.Enabled(1, SourceSoftware) {
		t.Fatalf("clearing must not touch the enable mask")
	}
	if c.Generation(1) != gen {
		t.Fatalf("clearing must not change the wake generation")
	}
}

func TestDeliverableNeedsEnable(t *testing.T) {
	c := New(2)
	_ = c.Raise(1)
	if c.Deliverable(1) {
		t.Fatalf("pending but disabled interrupt must not be deliverable")
	}
	_ = c.EnableLocalSource(1, SourceSoftware)
	if !c.Deliverable(1) {
		t.Fatalf("expected deliverable after enabling the software source")
	}
	if c.GlobalEnabled(1) {
		t.Fatalf("global enable must stay off")
	}
	_ = c.DisableLocalSource(1, SourceSoftware)
	if c.Deliverable(1) {
		t.Fatalf("expected not deliverable after disabling")
	}
}

func TestOutOfRangeHart(t *testing.T) {
	c := New(core.DefaultHartCount)
	if err := c.Raise(5); !errors.Is(err, ErrNoSuchHart) {
		t.Fatalf("expected ErrNoSuchHart, got %v", err)
	}
	if err := c.ClearPending(-2); !errors.Is(err, ErrNoSuchHart) {
		t.Fatalf("expected ErrNoSuchHart, got %v", err)
	}
}

func TestTakePendingDispatchesOnlyWhenGloballyEnabled(t *testing.T) {
	c := New(2)
	count := 0
	_ = c.SetHandler(1, func(h core.HartID) { count++ })
	_ = c.SetEnableMask(1, SourceSoftware)
	_ = c.Raise(1)

	if c.TakePending(1) {
		t.Fatalf("interrupt must not be taken with global enable off")
	}
	_ = c.EnableGlobal(1)
	if !c.TakePending(1) {
		t.Fatalf("expected interrupt to be taken")
	}
	if count != 1 {
		t.Fatalf("expected handler run once, got %d", count)
	}
	if c.Pending(1) {
		t.Fatalf("trap exit should clear the pending bit")
	}
}

func TestWaitGenerationWakesOnRaise(t *testing.T) {
	c := New(2)
	gen := c.Generation(1)
	done := make(chan error, 1)
	go func() {
		done <- c.WaitGeneration(context.Background(), 1, gen)
	}()
	time.Sleep(10 * time.Millisecond)
	_ = c.Raise(1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitGeneration: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter never woke")
	}
}

func TestWaitGenerationHonoursContext(t *testing.T) {
	c := New(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.WaitGeneration(ctx, 1, c.Generation(1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
