// Package clint models the core-local interrupt controller of the hart
// complex: one machine software interrupt pending bit (MSIP) per hart, the
// per-hart interrupt enable mask and the global interrupt enable.
package clint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Readm/hart_sim/core"
)

// Source is a local interrupt source, numbered like its mip/mie bit.
type Source uint

const (
	SourceSoftware Source = 3
	SourceTimer    Source = 7
	SourceExternal Source = 11
)

func (s Source) mask() uint64 {
	return 1 << uint(s)
}

// ErrNoSuchHart is returned when a hart id is outside the controller.
var ErrNoSuchHart = errors.New("no such hart")

// Handler runs on the target hart when its software interrupt is dispatched.
type Handler func(h core.HartID)

type hartLines struct {
	msip    atomic.Uint32
	mie     atomic.Uint64
	global  atomic.Bool
	handler atomic.Pointer[Handler]
	wake    *Signal
}

// Controller holds the interrupt lines of every hart.
type Controller struct {
	harts []*hartLines
}

// New creates a controller for n harts with every line cleared and disabled.
func New(n int) *Controller {
	c := &Controller{harts: make([]*hartLines, n)}
	for i := range c.harts {
		c.harts[i] = &hartLines{wake: NewSignal()}
	}
	return c
}

// Harts returns the number of harts served.
func (c *Controller) Harts() int {
	return len(c.harts)
}

func (c *Controller) lines(h core.HartID) (*hartLines, error) {
	if c == nil || !h.Valid(len(c.harts)) {
		return nil, fmt.Errorf("%s: %w", h.Label(), ErrNoSuchHart)
	}
	return c.harts[h], nil
}

// Raise sets the software interrupt pending bit of target. The bit is
// visible to the target before Raise returns.
func (c *Controller) Raise(target core.HartID) error {
	l, err := c.lines(target)
	if err != nil {
		return err
	}
	l.msip.Store(1)
	l.wake.Bump()
	return nil
}

// ClearPending clears the software interrupt pending bit. Clearing a clear
// bit is a no-op.
func (c *Controller) ClearPending(h core.HartID) error {
	l, err := c.lines(h)
	if err != nil {
		return err
	}
	l.msip.Store(0)
	return nil
}

// Pending reports the MSIP bit of h.
func (c *Controller) Pending(h core.HartID) bool {
	l, err := c.lines(h)
	if err != nil {
		return false
	}
	return l.msip.Load() == 1
}

// EnableLocalSource sets the source bit in the mie mask of h.
func (c *Controller) EnableLocalSource(h core.HartID, src Source) error {
	l, err := c.lines(h)
	if err != nil {
		return err
	}
	for {
		old := l.mie.Load()
		if l.mie.CompareAndSwap(old, old|src.mask()) {
			return nil
		}
	}
}

// DisableLocalSource clears the source bit in the mie mask of h.
func (c *Controller) DisableLocalSource(h core.HartID, src Source) error {
	l, err := c.lines(h)
	if err != nil {
		return err
	}
	for {
		old := l.mie.Load()
		if l.mie.CompareAndSwap(old, old&^src.mask()) {
			return nil
		}
	}
}

// SetEnableMask replaces the mie mask of h, e.g. to enable only one source.
func (c *Controller) SetEnableMask(h core.HartID, srcs ...Source) error {
	l, err := c.lines(h)
	if err != nil {
		return err
	}
	var m uint64
	for _, s := range srcs {
		m |= s.mask()
	}
	l.mie.Store(m)
	return nil
}

// Enabled reports whether src is set in the mie mask of h.
func (c *Controller) Enabled(h core.HartID, src Source) bool {
	l, err := c.lines(h)
	if err != nil {
		return false
	}
	return l.mie.Load()&src.mask() != 0
}

// EnableGlobal sets the global interrupt enable of h.
func (c *Controller) EnableGlobal(h core.HartID) error {
	l, err := c.lines(h)
	if err != nil {
		return err
	}
	l.global.Store(true)
	return nil
}

// DisableGlobal clears the global interrupt enable of h.
func (c *Controller) DisableGlobal(h core.HartID) error {
	l, err := c.lines(h)
	if err != nil {
		return err
	}
	l.global.Store(false)
	return nil
}

// GlobalEnabled reports the global interrupt enable of h.
func (c *Controller) GlobalEnabled(h core.HartID) bool {
	l, err := c.lines(h)
	if err != nil {
		return false
	}
	return l.global.Load()
}

// Deliverable reports whether a software interrupt is pending and enabled
// for h. This is the WFI wake condition; it does not depend on the global
// enable.
func (c *Controller) Deliverable(h core.HartID) bool {
	l, err := c.lines(h)
	if err != nil {
		return false
	}
	return l.msip.Load() == 1 && l.mie.Load()&SourceSoftware.mask() != 0
}

// SetHandler installs the software interrupt handler of h.
func (c *Controller) SetHandler(h core.HartID, fn Handler) error {
	l, err := c.lines(h)
	if err != nil {
		return err
	}
	if fn == nil {
		l.handler.Store(nil)
		return nil
	}
	l.handler.Store(&fn)
	return nil
}

// Dispatch runs the software handler of h if one is installed. It must be
// called from h's own execution context.
func (c *Controller) Dispatch(h core.HartID) bool {
	l, err := c.lines(h)
	if err != nil {
		return false
	}
	fn := l.handler.Load()
	if fn == nil {
		return false
	}
	(*fn)(h)
	return true
}

// TakePending dispatches the software interrupt of h when it is pending,
// enabled and globally enabled, then clears it as the trap exit would.
// Harts that are running call it at their interrupt check points.
func (c *Controller) TakePending(h core.HartID) bool {
	l, err := c.lines(h)
	if err != nil {
		return false
	}
	if !l.global.Load() || !c.Deliverable(h) {
		return false
	}
	c.Dispatch(h)
	l.msip.Store(0)
	return true
}

// Generation returns the wake generation of h.
func (c *Controller) Generation(h core.HartID) uint64 {
	l, err := c.lines(h)
	if err != nil {
		return 0
	}
	return l.wake.Value()
}

// WaitGeneration blocks until a Raise to h after generation after, or ctx is done.
func (c *Controller) WaitGeneration(ctx context.Context, h core.HartID, after uint64) error {
	l, err := c.lines(h)
	if err != nil {
		return err
	}
	return l.wake.WaitPast(ctx, after)
}

// Kick bumps the wake generation of h without raising an interrupt. A hart
// parked on the generation resumes and re-checks its wait condition, as
// after a spurious WFI return.
func (c *Controller) Kick(h core.HartID) {
	l, err := c.lines(h)
	if err != nil {
		return
	}
	l.wake.Bump()
}
