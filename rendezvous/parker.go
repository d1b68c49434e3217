package rendezvous

import (
	"context"
	"runtime"
)

// Parker suspends a waiting hart between checks of its wake condition.
// mark is the wake generation read before the check; Park returns once the
// generation may have moved past it, or with ctx's error.
type Parker interface {
	Park(ctx context.Context, h *Hart, mark uint64) error
}

// SpinParker yields the processor and returns: the busy WFI loop.
type SpinParker struct{}

func (SpinParker) Park(ctx context.Context, _ *Hart, _ uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runtime.Gosched()
	return nil
}

// WFIParker blocks on the hart's wake generation, like WFI stalls until an
// interrupt becomes pending.
type WFIParker struct{}

func (WFIParker) Park(ctx context.Context, h *Hart, mark uint64) error {
	return h.c.ctrl.WaitGeneration(ctx, h.id, mark)
}
