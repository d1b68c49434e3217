package simulator

import (
	"context"
	"errors"
	"sync"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/rendezvous"
)

// ErrStopped is returned by a lockstep park after the coordinator stopped.
var ErrStopped = errors.New("coordinator stopped")

// ComponentID names a hart inside a Coordinator.
func ComponentID(h core.HartID) string {
	return h.Label()
}

// LockstepParker parks a waiting hart for one coordinator cycle per
// iteration of its wait loop, so each check of the wake condition happens
// in a known cycle.
type LockstepParker struct {
	coord *Coordinator

	mu         sync.Mutex
	current    map[core.HartID]int
	waitingFor map[core.HartID]int
}

// NewLockstepParker returns a parker driven by coord.
func NewLockstepParker(coord *Coordinator) *LockstepParker {
	return &LockstepParker{
		coord:      coord,
		current:    make(map[core.HartID]int),
		waitingFor: make(map[core.HartID]int),
	}
}

// Park completes the hart's current cycle and blocks until the next one.
// The check made before the first Park is not part of any cycle.
func (p *LockstepParker) Park(ctx context.Context, h *rendezvous.Hart, _ uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := h.ID()
	name := ComponentID(id)

	p.mu.Lock()
	cur, started := p.current[id]
	next := 0
	if started {
		next = cur + 1
	}
	p.waitingFor[id] = next
	p.mu.Unlock()

	if started {
		p.coord.MarkDone(name, cur)
	}
	cycle := p.coord.WaitForCycle(name)
	if cycle < 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrStopped
	}

	p.mu.Lock()
	p.current[id] = cycle
	delete(p.waitingFor, id)
	p.mu.Unlock()
	return nil
}

// WaitingFor reports the cycle h is blocked on, if it is parked.
func (p *LockstepParker) WaitingFor(h core.HartID) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.waitingFor[h]
	return c, ok
}

// Cycle returns the last cycle h was released into.
func (p *LockstepParker) Cycle(h core.HartID) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.current[h]
	return c, ok
}
