package soc

import (
	"context"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/rendezvous"
	"github.com/Readm/hart_sim/shared"
)

// Entry is the per-hart entry point, e51 for the monitor and u54_N for the
// application harts.
type Entry = rendezvous.Entry

// Entries maps harts to their entry points. Missing harts get the default.
type Entries map[core.HartID]Entry

// EntryName returns the firmware name of h's entry point.
func EntryName(h core.HartID) string {
	return h.EntryName()
}

func (s *System) entryFor(entries Entries, h core.HartID) Entry {
	if e, ok := entries[h]; ok && e != nil {
		return e
	}
	if h == s.opts.FirstHart {
		return Idle
	}
	return s.Worker
}

// DefaultEntries returns the default entry of every hart.
func (s *System) DefaultEntries() Entries {
	out := make(Entries, len(s.harts))
	for i := range s.harts {
		out[core.HartID(i)] = s.entryFor(nil, core.HartID(i))
	}
	return out
}

// Idle parks the hart until power-off, taking interrupts as they arrive.
func Idle(ctx context.Context, h *rendezvous.Hart) error {
	<-ctx.Done()
	return ctx.Err()
}

// Worker is the default application entry: it attaches the shared region
// through the pointer in its HLS, counts itself into boot_count, prints a
// banner on the shared UART and then idles, or keeps re-entering the wait
// when the system is reentrant.
func (s *System) Worker(ctx context.Context, h *rendezvous.Hart) error {
	id := h.ID()
	if s.region != nil {
		blk, err := h.HLS()
		if err != nil {
			return err
		}
		region, err := shared.Attach(s.mem, blk.SharedMem(), s.opts.SharedLayout)
		if err != nil {
			return err
		}
		var booted, token uint64
		err = region.With(id, s.guard("boot_count"), func(a *shared.Access) error {
			if booted, err = a.Add("boot_count", 1); err != nil {
				return err
			}
			if s.guard("wake_token") == s.guard("boot_count") {
				token, err = a.Counter("wake_token")
			}
			return err
		})
		if err != nil {
			return err
		}
		blk.SetBootFlag(core.FlagSharedAttached)
		if err := s.uart.Printf(id, "Hello from %s (boot %d, token %#x)", id.EntryName(), booted, token); err != nil {
			return err
		}
	} else if err := s.uart.Printf(id, "Hello from %s", id.EntryName()); err != nil {
		return err
	}

	if !s.opts.Reentrant {
		return Idle(ctx, h)
	}
	for {
		if err := h.WaitForSignal(ctx); err != nil {
			return err
		}
		if err := s.uart.Printf(id, "%s rewake %d", id.EntryName(), h.Rewakes()); err != nil {
			return err
		}
	}
}
