// Package soc assembles a hart complex: memory, interrupt controller,
// rendezvous cluster, shared region and UART, and boots it with one
// goroutine per hart.
package soc

import (
	"fmt"
	"io"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hls"
	"github.com/Readm/hart_sim/hooks"
	"github.com/Readm/hart_sim/rendezvous"
	"github.com/Readm/hart_sim/shared"
)

// ParkerFactory builds the parker for one hart.
type ParkerFactory func(h core.HartID) rendezvous.Parker

// HWConfig runs on each hart after shared startup and before the hart
// waits or starts. It stands in for PMP and clock setup.
type HWConfig func(h *rendezvous.Hart) error

// Options configure a system.
type Options struct {
	Harts int
	// FirstHart runs the monitor; LastHart is the highest hart the monitor
	// releases automatically. Harts outside the range wait until Raise.
	FirstHart core.HartID
	LastHart  core.HartID
	Roles     map[core.HartID]core.Role

	SharedMemory bool
	SharedLayout shared.Layout
	ClearMemory  bool

	AutoRelease  bool
	ReleaseOrder []core.HartID
	ResendAfter  int
	ClearPolicy  rendezvous.ClearPolicy
	// Reentrant makes the default worker entries park in WaitForSignal
	// after their banner instead of idling.
	Reentrant bool

	Parker      ParkerFactory
	MonitorPoll rendezvous.PollFunc
	HWConfig    HWConfig
	// Link overrides the default link map for Harts.
	Link   *hls.LinkMap
	Broker *hooks.PluginBroker
	Clock  rendezvous.Clock
	// UART receives every line printed through the shared UART.
	UART io.Writer
}

// DefaultOptions is the reference configuration: five harts, hart 0 the
// monitor releasing harts 1-4 in ascending order with the shared region on.
func DefaultOptions() Options {
	return Options{
		Harts:        core.DefaultHartCount,
		FirstHart:    core.MonitorHart,
		LastHart:     core.HartID(core.DefaultHartCount - 1),
		SharedMemory: true,
		SharedLayout: shared.DefaultLayout(),
		ClearMemory:  true,
		AutoRelease:  true,
		ClearPolicy:  rendezvous.ClearByWaiter,
	}
}

// RoleOf returns the role hart h boots with.
func (o Options) RoleOf(h core.HartID) core.Role {
	if h == o.FirstHart {
		return core.RoleMonitor
	}
	if r, ok := o.Roles[h]; ok && r != "" && r != core.RoleMonitor {
		return r
	}
	return core.RoleWaitForRelease
}

// InRange reports whether h is released by the monitor automatically.
func (o Options) InRange(h core.HartID) bool {
	lo, hi := o.FirstHart, o.LastHart
	if lo > hi {
		lo, hi = hi, lo
	}
	return h >= lo && h <= hi
}

// Order returns the automatic release order.
func (o Options) Order() []core.HartID {
	if len(o.ReleaseOrder) > 0 {
		out := make([]core.HartID, 0, len(o.ReleaseOrder))
		for _, h := range o.ReleaseOrder {
			if h != o.FirstHart {
				out = append(out, h)
			}
		}
		return out
	}
	lo, hi := o.FirstHart, o.LastHart
	if lo > hi {
		lo, hi = hi, lo
	}
	return core.Ascending(lo, hi, o.FirstHart)
}

// Validate fills defaults and rejects impossible combinations.
func (o *Options) Validate() error {
	if o.Harts <= 0 {
		o.Harts = core.DefaultHartCount
	}
	if !o.FirstHart.Valid(o.Harts) {
		return fmt.Errorf("first hart %d outside %d harts", o.FirstHart, o.Harts)
	}
	if !o.LastHart.Valid(o.Harts) {
		return fmt.Errorf("last hart %d outside %d harts", o.LastHart, o.Harts)
	}
	if o.ClearPolicy == "" {
		o.ClearPolicy = rendezvous.ClearByWaiter
	}
	if o.SharedMemory && len(o.SharedLayout.Locks) == 0 {
		o.SharedLayout = shared.DefaultLayout()
	}
	for h, r := range o.Roles {
		if !h.Valid(o.Harts) {
			return fmt.Errorf("role for hart %d outside %d harts", h, o.Harts)
		}
		if r == core.RoleMonitor && h != o.FirstHart {
			return fmt.Errorf("%s cannot be a monitor, the monitor is %s", h.Label(), o.FirstHart.Label())
		}
	}
	for _, h := range o.ReleaseOrder {
		if !h.Valid(o.Harts) {
			return fmt.Errorf("release order names hart %d outside %d harts", h, o.Harts)
		}
	}
	if o.ResendAfter < 0 {
		return fmt.Errorf("resend after must not be negative, got %d", o.ResendAfter)
	}
	if o.Link != nil && o.Link.Harts != o.Harts {
		return fmt.Errorf("link map has %d harts, options have %d", o.Link.Harts, o.Harts)
	}
	return nil
}
