// Package rendezvous implements the boot rendezvous between the monitor hart
// and the application harts: the per-hart wake state machine, the WFI wait
// loop, the directed software-interrupt wake and the monitor's release
// sequence.
package rendezvous

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Readm/hart_sim/clint"
	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hls"
	"github.com/Readm/hart_sim/hooks"
	"github.com/Readm/hart_sim/memory"
)

var (
	// ErrEntryReturned reports that a hart entry point came back while the
	// system was still powered. This is fatal for that hart.
	ErrEntryReturned = errors.New("entry point returned")
	// ErrNotStarted is returned when a hart is used before Startup.
	ErrNotStarted = errors.New("hart startup not run")
	// ErrWrongState is returned when an operation needs a different wake state.
	ErrWrongState = errors.New("hart in wrong wake state")
)

// Clock reports the current simulation cycle for hook contexts.
type Clock func() int

// Config assembles a cluster.
type Config struct {
	Controller *clint.Controller
	Memory     *memory.Arena
	Link       hls.LinkMap
	Broker     *hooks.PluginBroker
	Clock      Clock
}

type hartSlot struct {
	state   atomic.Int32
	inWait  atomic.Bool
	parks   atomic.Uint64
	rewakes atomic.Uint64
	role    atomic.Value // core.Role
}

// Cluster is the shared view of every hart's wake state. Each hart owns its
// own transitions except WAITING -> SIGNALED, which the signaller performs.
type Cluster struct {
	ctrl   *clint.Controller
	mem    *memory.Arena
	link   hls.LinkMap
	broker *hooks.PluginBroker
	clock  Clock
	slots  []*hartSlot
}

// NewCluster validates cfg and returns a cluster with every hart in RESET.
func NewCluster(cfg Config) (*Cluster, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("cluster: interrupt controller is required")
	}
	if cfg.Memory == nil {
		return nil, fmt.Errorf("cluster: memory is required")
	}
	if err := cfg.Link.Validate(); err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	if cfg.Link.Harts != cfg.Controller.Harts() {
		return nil, fmt.Errorf("cluster: link map has %d harts, controller has %d", cfg.Link.Harts, cfg.Controller.Harts())
	}
	if !cfg.Memory.Contains(cfg.Link.StackBase, cfg.Link.Span()) {
		return nil, fmt.Errorf("cluster: link map [%#x, %#x) outside memory", cfg.Link.StackBase, cfg.Link.End())
	}
	c := &Cluster{
		ctrl:   cfg.Controller,
		mem:    cfg.Memory,
		link:   cfg.Link,
		broker: cfg.Broker,
		clock:  cfg.Clock,
		slots:  make([]*hartSlot, cfg.Link.Harts),
	}
	for i := range c.slots {
		s := &hartSlot{}
		s.role.Store(core.RoleWaitForRelease)
		c.slots[i] = s
	}
	c.slots[core.MonitorHart].role.Store(core.RoleMonitor)
	return c, nil
}

// Harts returns the number of harts in the cluster.
func (c *Cluster) Harts() int {
	return len(c.slots)
}

// Controller returns the interrupt controller.
func (c *Cluster) Controller() *clint.Controller {
	return c.ctrl
}

// Memory returns the arena holding stacks, HLS blocks and the shared region.
func (c *Cluster) Memory() *memory.Arena {
	return c.mem
}

// Link returns the stack and HLS placement.
func (c *Cluster) Link() hls.LinkMap {
	return c.link
}

// Broker returns the hook broker, possibly nil.
func (c *Cluster) Broker() *hooks.PluginBroker {
	return c.broker
}

func (c *Cluster) cycle() int {
	if c.clock == nil {
		return 0
	}
	return c.clock()
}

func (c *Cluster) slot(h core.HartID) *hartSlot {
	if !h.Valid(len(c.slots)) {
		return nil
	}
	return c.slots[h]
}

// State returns the wake state of h.
func (c *Cluster) State(h core.HartID) core.WakeState {
	s := c.slot(h)
	if s == nil {
		return core.StateReset
	}
	return core.WakeState(s.state.Load())
}

// Role returns the boot role recorded for h.
func (c *Cluster) Role(h core.HartID) core.Role {
	s := c.slot(h)
	if s == nil {
		return ""
	}
	return s.role.Load().(core.Role)
}

// InWait reports whether h is parked in WaitForSignal.
func (c *Cluster) InWait(h core.HartID) bool {
	s := c.slot(h)
	return s != nil && s.inWait.Load()
}

// Inspect reads the HLS block of h the way the monitor does, by address.
func (c *Cluster) Inspect(h core.HartID) hls.DebugView {
	return hls.Inspect(c.mem, c.link, h)
}

// advance moves h to `to`. A transition out of order is a protocol violation.
func (c *Cluster) advance(h core.HartID, to core.WakeState) {
	s := c.slot(h)
	if s == nil {
		core.Violate(core.ViolationStateRegression, h, "no such hart")
	}
	for {
		from := core.WakeState(s.state.Load())
		if !core.CanAdvance(from, to) {
			core.Violate(core.ViolationStateRegression, h, "%s -> %s", from, to)
		}
		if s.state.CompareAndSwap(int32(from), int32(to)) {
			c.emitState(h, from, to)
			return
		}
	}
}

// tryAdvance moves h from exactly `from` to `to` and reports whether it did.
func (c *Cluster) tryAdvance(h core.HartID, from, to core.WakeState) bool {
	s := c.slot(h)
	if s == nil {
		return false
	}
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.emitState(h, from, to)
	return true
}

func (c *Cluster) emitState(h core.HartID, from, to core.WakeState) {
	_ = c.broker.EmitStateChange(&hooks.StateContext{Hart: h, From: from, To: to, Cycle: c.cycle()})
}

// Signal sends the directed wake from `from` to `to`: it raises the target's
// software interrupt and, when the target is in its boot wait, records it as
// SIGNALED. Waking a hart that is running and not parked in a wait loop is a
// protocol violation.
func (c *Cluster) Signal(from, to core.HartID) error {
	s := c.slot(to)
	if s == nil {
		return fmt.Errorf("signal %s: %w", to.Label(), clint.ErrNoSuchHart)
	}
	if st := c.State(to); st >= core.StateRunning && !s.inWait.Load() {
		core.Violate(core.ViolationWakeRunning, to, "wake from %s while %s", from.Label(), st)
	}
	if err := c.ctrl.Raise(to); err != nil {
		return err
	}
	c.tryAdvance(to, core.StateWaiting, core.StateSignaled)
	_ = c.broker.EmitSignal(&hooks.SignalContext{Source: from, Target: to, Cycle: c.cycle()})
	return nil
}

// resend raises the target again without the running check. A resend can
// race with the target leaving its wait loop; the stale bit it leaves is
// cleared by the target before it waits again.
func (c *Cluster) resend(from, to core.HartID) error {
	if err := c.ctrl.Raise(to); err != nil {
		return err
	}
	c.tryAdvance(to, core.StateWaiting, core.StateSignaled)
	_ = c.broker.EmitSignal(&hooks.SignalContext{Source: from, Target: to, Resend: true, Cycle: c.cycle()})
	return nil
}

// Snapshot returns the externally visible state of h.
func (c *Cluster) Snapshot(h core.HartID) core.HartSnapshot {
	view := c.Inspect(h)
	snap := core.HartSnapshot{
		ID:             h,
		Entry:          h.EntryName(),
		Role:           c.Role(h),
		State:          c.State(h),
		SoftInts:       view.SoftInts(),
		WFIIndicator:   view.WFIIndicator(),
		BootFlags:      view.BootFlags(),
		HLSBase:        c.link.HLSBase(h),
		PendingSoftInt: c.ctrl.Pending(h),
	}
	if s := c.slot(h); s != nil {
		snap.Rewakes = s.rewakes.Load()
	}
	return snap
}

// Snapshots returns the snapshot of every hart in id order.
func (c *Cluster) Snapshots() []core.HartSnapshot {
	out := make([]core.HartSnapshot, len(c.slots))
	for i := range c.slots {
		out[i] = c.Snapshot(core.HartID(i))
	}
	return out
}
