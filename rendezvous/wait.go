package rendezvous

import (
	"context"
	"fmt"

	"github.com/Readm/hart_sim/clint"
	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hooks"
)

// EnterWait prepares the boot wait: any stale pending bit is dropped, only
// the software source is enabled, interrupts stay globally off, and the
// hart announces itself as parked. The hart is WAITING on return.
//
// A raise that lands before EnterWait is lost. The monitor waits for the
// InWFI marker before it signals.
func (h *Hart) EnterWait() error {
	if !h.started {
		return fmt.Errorf("%s: %w", h.id.Label(), ErrNotStarted)
	}
	ctrl := h.c.ctrl
	_ = ctrl.ClearPending(h.id)
	_ = ctrl.SetEnableMask(h.id, clint.SourceSoftware)
	_ = ctrl.DisableGlobal(h.id)
	h.c.advance(h.id, core.StateWaiting)
	h.block.SetBootFlag(core.FlagWaiting)
	h.block.SetWFIIndicator(core.HLSDataInWFI)
	return nil
}

// AwaitRelease parks until the directed software interrupt is deliverable,
// then completes the wake and leaves the hart RUNNING with interrupts
// enabled. There is no timeout: if ctx ends first the error is returned and
// the hart stays WAITING.
func (h *Hart) AwaitRelease(ctx context.Context) error {
	if st := h.State(); st != core.StateWaiting && st != core.StateSignaled {
		return fmt.Errorf("%s await release in %s: %w", h.id.Label(), st, ErrWrongState)
	}
	ctrl := h.c.ctrl
	for {
		mark := ctrl.Generation(h.id)
		if ctrl.Deliverable(h.id) {
			break
		}
		if err := h.parker.Park(ctx, h, mark); err != nil {
			return err
		}
	}
	h.completeWake()
	return nil
}

// BootWait is the full boot wait of a hart released by the monitor.
func (h *Hart) BootWait(ctx context.Context) error {
	if err := h.EnterWait(); err != nil {
		return err
	}
	return h.AwaitRelease(ctx)
}

// PollWake runs one iteration of the boot wait loop without parking. It
// reports true once the hart has woken and is RUNNING.
func (h *Hart) PollWake() (bool, error) {
	if st := h.State(); st != core.StateWaiting && st != core.StateSignaled {
		return false, fmt.Errorf("%s poll wake in %s: %w", h.id.Label(), st, ErrWrongState)
	}
	if !h.c.ctrl.Deliverable(h.id) {
		return false, nil
	}
	h.completeWake()
	return true, nil
}

func (h *Hart) completeWake() {
	ctrl := h.c.ctrl
	h.c.tryAdvance(h.id, core.StateWaiting, core.StateSignaled)
	ctrl.Dispatch(h.id)
	_ = ctrl.ClearPending(h.id)
	h.c.advance(h.id, core.StateCleared)
	h.block.SetWFIIndicator(core.HLSDataPassedWFI)
	h.block.SetBootFlag(core.FlagReleased)
	_ = ctrl.EnableGlobal(h.id)
	h.c.advance(h.id, core.StateRunning)
	h.block.SetBootFlag(core.FlagRunning)
}

// WaitForSignal parks a running hart until its next directed software
// interrupt. It can be called any number of times and does not touch the
// wake state; each wake is counted as a rewake.
func (h *Hart) WaitForSignal(ctx context.Context) error {
	if st := h.State(); st != core.StateRunning {
		return fmt.Errorf("%s wait for signal in %s: %w", h.id.Label(), st, ErrWrongState)
	}
	ctrl := h.c.ctrl
	h.slot.inWait.Store(true)
	defer h.slot.inWait.Store(false)

	_ = ctrl.ClearPending(h.id)
	_ = ctrl.EnableLocalSource(h.id, clint.SourceSoftware)
	h.block.SetWFIIndicator(core.HLSDataInWFI)
	h.slot.parks.Add(1)
	_ = h.c.broker.EmitWait(&hooks.WaitContext{Hart: h.id, Parked: true, Cycle: h.c.cycle()})

	for {
		mark := ctrl.Generation(h.id)
		if ctrl.Deliverable(h.id) {
			break
		}
		if err := h.parker.Park(ctx, h, mark); err != nil {
			h.slot.parks.Add(^uint64(0))
			return err
		}
	}
	ctrl.Dispatch(h.id)
	_ = ctrl.ClearPending(h.id)
	h.block.SetWFIIndicator(core.HLSDataPassedWFI)
	h.slot.rewakes.Add(1)
	_ = h.c.broker.EmitWait(&hooks.WaitContext{Hart: h.id, Parked: false, Cycle: h.c.cycle()})
	return nil
}

// Rewakes returns how many times WaitForSignal has returned a wake.
func (h *Hart) Rewakes() uint64 {
	return h.slot.rewakes.Load()
}
