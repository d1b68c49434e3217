package simulator

import (
	"math"
	"sync"
)

// Coordinator orchestrates target global cycle progression across all components.
// Components repeatedly call WaitForCycle to obtain the current target cycle, execute their
// work for that cycle, and then call MarkDone when they finish. Once all components report
// completion for the target cycle, the coordinator advances to the next cycle (until maxTarget).
// A component that no longer takes part in lockstep calls Retire.
type Coordinator struct {
	mu             sync.Mutex
	cond           *sync.Cond
	targetCycle    int
	maxTargetCycle int

	componentDone map[string]int

	// stallBitmap marks components the driver gave up waiting on
	stallBitmap map[string]bool

	stopped bool
}

// NewCoordinator creates a coordinator for the provided component identifiers.
func NewCoordinator(componentIDs []string) *Coordinator {
	cc := &Coordinator{
		targetCycle:    0,
		maxTargetCycle: math.MaxInt32,
		componentDone:  make(map[string]int, len(componentIDs)),
		stallBitmap:    make(map[string]bool, len(componentIDs)),
	}
	for _, id := range componentIDs {
		cc.componentDone[id] = -1 // no cycle completed yet
		cc.stallBitmap[id] = false
	}
	cc.cond = sync.NewCond(&cc.mu)
	return cc
}

// SetMaxTarget sets the maximum global cycle the coordinator should advance to.
func (cc *Coordinator) SetMaxTarget(maxCycle int) {
	cc.mu.Lock()
	cc.maxTargetCycle = maxCycle
	cc.cond.Broadcast()
	cc.mu.Unlock()
}

// Stop notifies all waiters that the coordinator is shutting down.
func (cc *Coordinator) Stop() {
	cc.mu.Lock()
	cc.stopped = true
	cc.cond.Broadcast()
	cc.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (cc *Coordinator) Stopped() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.stopped
}

// WaitForCycle blocks until the coordinator assigns a cycle for the component to execute.
// Returns -1 when the coordinator has been stopped.
func (cc *Coordinator) WaitForCycle(componentID string) int {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	for {
		if cc.stopped {
			return -1
		}
		if cc.targetCycle <= cc.maxTargetCycle {
			if done, ok := cc.componentDone[componentID]; ok && done < cc.targetCycle {
				return cc.targetCycle
			}
		}
		cc.cond.Wait()
	}
}

// MarkDone updates the component's completed cycle and advances the global cycle if all
// components have reached the current target.
func (cc *Coordinator) MarkDone(componentID string, cycle int) {
	cc.mu.Lock()

	prev, ok := cc.componentDone[componentID]
	if ok && cycle > prev {
		cc.componentDone[componentID] = cycle
		cc.advanceLocked()
	}

	cc.mu.Unlock()
}

// Retire removes a component from lockstep; the remaining components no
// longer wait for it.
func (cc *Coordinator) Retire(componentID string) {
	cc.mu.Lock()
	if _, ok := cc.componentDone[componentID]; ok {
		delete(cc.componentDone, componentID)
		delete(cc.stallBitmap, componentID)
		cc.advanceLocked()
	}
	cc.mu.Unlock()
}

func (cc *Coordinator) advanceLocked() {
	if !cc.stopped && len(cc.componentDone) > 0 && cc.allDoneLocked() && cc.targetCycle <= cc.maxTargetCycle {
		cc.targetCycle++
	}
	cc.cond.Broadcast()
}

// ReportStall marks a component as stalled. A parked hart still completes
// its cycles, so only the driver can tell it waits for a wake that never
// comes; the mark stays until the component retires.
func (cc *Coordinator) ReportStall(componentID string) {
	cc.mu.Lock()
	if _, ok := cc.componentDone[componentID]; ok {
		cc.stallBitmap[componentID] = true
	}
	cc.mu.Unlock()
}

// SnapshotStallBitmap returns a copy of the stall bitmap for diagnostics.
func (cc *Coordinator) SnapshotStallBitmap() map[string]bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	result := make(map[string]bool, len(cc.stallBitmap))
	for k, v := range cc.stallBitmap {
		result[k] = v
	}
	return result
}

// TargetCycle returns the current target cycle.
func (cc *Coordinator) TargetCycle() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.targetCycle
}

// SnapshotProgress returns copies of target, max, and component completion states.
func (cc *Coordinator) SnapshotProgress() (target int, max int, done map[string]int) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	target = cc.targetCycle
	max = cc.maxTargetCycle
	done = make(map[string]int, len(cc.componentDone))
	for k, v := range cc.componentDone {
		done[k] = v
	}
	return
}

func (cc *Coordinator) allDoneLocked() bool {
	for _, done := range cc.componentDone {
		if done < cc.targetCycle {
			return false
		}
	}
	return true
}
