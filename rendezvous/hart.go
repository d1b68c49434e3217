package rendezvous

import (
	"context"
	"fmt"

	"github.com/Readm/hart_sim/clint"
	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hls"
	"github.com/Readm/hart_sim/hooks"
)

// ClearPolicy selects who clears the software pending bit on wake.
type ClearPolicy string

const (
	// ClearByWaiter leaves the clear to the wait loop after the handler ran.
	ClearByWaiter ClearPolicy = "waiter"
	// ClearInHandler also clears inside the software handler. The waiter
	// still clears afterwards; clearing a clear bit is a no-op.
	ClearInHandler ClearPolicy = "handler"
)

// ParseClearPolicy maps a config string to a policy. Empty means ClearByWaiter.
func ParseClearPolicy(s string) (ClearPolicy, error) {
	switch ClearPolicy(s) {
	case "", ClearByWaiter:
		return ClearByWaiter, nil
	case ClearInHandler:
		return ClearInHandler, nil
	default:
		return "", fmt.Errorf("unknown clear policy %q", s)
	}
}

// Entry is the body a hart runs once released. It must not return while
// ctx is live.
type Entry func(ctx context.Context, h *Hart) error

// SoftwareHook runs inside the software handler after the count is taken.
type SoftwareHook func(h *Hart, count uint64)

// HartOptions configure one hart.
type HartOptions struct {
	Role        core.Role
	Parker      Parker
	ClearPolicy ClearPolicy
	OnSoftware  SoftwareHook
}

// Hart is the execution context of one simulated hart. Its methods are
// called from that hart's goroutine only; other harts go through Cluster.
type Hart struct {
	id      core.HartID
	c       *Cluster
	slot    *hartSlot
	parker  Parker
	policy  ClearPolicy
	role    core.Role
	onSoft  SoftwareHook
	tp      uint64
	block   hls.Block
	started bool
}

// NewHart creates the context for hart id. The hart is in RESET until
// Startup runs.
func (c *Cluster) NewHart(id core.HartID, opts HartOptions) (*Hart, error) {
	s := c.slot(id)
	if s == nil {
		return nil, fmt.Errorf("new hart %s: %w", id.Label(), clint.ErrNoSuchHart)
	}
	role := opts.Role
	if role == "" {
		role = c.Role(id)
	}
	policy := opts.ClearPolicy
	if policy == "" {
		policy = ClearByWaiter
	}
	parker := opts.Parker
	if parker == nil {
		parker = WFIParker{}
	}
	s.role.Store(role)
	return &Hart{id: id, c: c, slot: s, parker: parker, policy: policy, role: role, onSoft: opts.OnSoftware}, nil
}

// ID returns the hart id.
func (h *Hart) ID() core.HartID {
	return h.id
}

// Role returns the boot role.
func (h *Hart) Role() core.Role {
	return h.role
}

// Cluster returns the cluster the hart belongs to.
func (h *Hart) Cluster() *Cluster {
	return h.c
}

// TP returns the thread-pointer register. It holds the hart's HLS address
// after Startup.
func (h *Hart) TP() uint64 {
	return h.tp
}

// State returns the hart's wake state.
func (h *Hart) State() core.WakeState {
	return h.c.State(h.id)
}

// Startup runs the shared per-hart startup: it loads tp, optionally clears
// the hart's stack and HLS, records the identity and the shared-region
// pointer and installs the software handler. The software source stays
// disabled until the hart chooses to wait or run.
func (h *Hart) Startup(clearMemory bool) error {
	link := h.c.link
	h.tp = link.HLSBase(h.id)
	blk, err := hls.Bind(h.c.mem, h.tp, link.DebugAreaSize)
	if err != nil {
		return fmt.Errorf("%s startup: %w", h.id.Label(), err)
	}
	if clearMemory {
		if err := h.c.mem.Zero(link.StackBottom(h.id), link.StackSize-link.DebugAreaSize); err != nil {
			return fmt.Errorf("%s startup: %w", h.id.Label(), err)
		}
		blk.Clear()
	}
	blk.SetHartID(h.id)
	blk.SetSharedMem(link.SharedBase())
	blk.SetBootFlag(core.FlagStartup)
	h.block = blk
	h.started = true

	ctrl := h.c.ctrl
	if err := ctrl.DisableGlobal(h.id); err != nil {
		return err
	}
	if err := ctrl.SetEnableMask(h.id); err != nil {
		return err
	}
	return ctrl.SetHandler(h.id, h.softwareHandler)
}

// HLS returns the hart's own storage, located through tp.
func (h *Hart) HLS() (hls.Block, error) {
	if !h.started {
		return hls.Block{}, fmt.Errorf("%s: %w", h.id.Label(), ErrNotStarted)
	}
	if owner := h.block.HartID(); owner != h.id {
		core.Violate(core.ViolationForeignHLS, h.id, "tp %#x holds HLS of %s", h.tp, owner.Label())
	}
	return h.block, nil
}

// MarkConfigured records that hardware configuration finished.
func (h *Hart) MarkConfigured() {
	if h.started {
		h.block.SetBootFlag(core.FlagHWConfigured)
	}
}

func (h *Hart) softwareHandler(core.HartID) {
	n := h.block.IncSoftInts()
	if h.policy == ClearInHandler {
		_ = h.c.ctrl.ClearPending(h.id)
	}
	_ = h.c.broker.EmitInterrupt(&hooks.InterruptContext{Hart: h.id, Count: n, Cycle: h.c.cycle()})
	if h.onSoft != nil {
		h.onSoft(h, n)
	}
}

// BootImmediate starts a hart whose image is already in place: it skips
// the wait, clears any stale pending bit and goes straight to RUNNING.
func (h *Hart) BootImmediate() error {
	if !h.started {
		return fmt.Errorf("%s: %w", h.id.Label(), ErrNotStarted)
	}
	ctrl := h.c.ctrl
	_ = ctrl.ClearPending(h.id)
	_ = ctrl.EnableLocalSource(h.id, clint.SourceSoftware)
	_ = ctrl.EnableGlobal(h.id)
	h.c.advance(h.id, core.StateRunning)
	h.block.SetBootFlag(core.FlagReleased | core.FlagRunning)
	return nil
}

// CheckInterrupts is an interrupt check point for a running hart. It takes
// a pending, enabled software interrupt and reports whether one ran.
func (h *Hart) CheckInterrupts() bool {
	return h.c.ctrl.TakePending(h.id)
}

// Halt marks the hart fatally stopped and reports err through the fault hook.
func (h *Hart) Halt(err error) {
	h.c.tryAdvance(h.id, core.StateRunning, core.StateHalted)
	_ = h.c.broker.EmitFault(&hooks.FaultContext{Hart: h.id, Err: err, Cycle: h.c.cycle()})
}

// Run calls entry and treats a return while ctx is live as fatal.
// A return after ctx is done is the normal power-off path.
func (h *Hart) Run(ctx context.Context, entry Entry) error {
	err := entry(ctx, h)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		err = fmt.Errorf("%s: %w: %v", h.id.EntryName(), ErrEntryReturned, err)
	} else {
		err = fmt.Errorf("%s: %w", h.id.EntryName(), ErrEntryReturned)
	}
	h.Halt(err)
	return err
}
