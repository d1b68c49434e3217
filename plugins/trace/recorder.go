// Package trace records rendezvous hook events into a bounded timeline.
package trace

import (
	"strconv"
	"sync"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hooks"
)

// DefaultCapacity bounds the timeline when no capacity is given.
const DefaultCapacity = 4096

// Subscriber is called with every recorded event, outside the recorder lock.
type Subscriber func(core.HartEvent)

// Recorder keeps the most recent events in arrival order.
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	events   []core.HartEvent
	next     int64
	dropped  int64
	subs     []Subscriber
}

// NewRecorder creates a recorder holding at most capacity events.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{capacity: capacity, events: make([]core.HartEvent, 0, capacity)}
}

// Subscribe adds a subscriber for future events.
func (r *Recorder) Subscribe(fn Subscriber) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

// Record assigns the next sequence number to ev and stores it.
func (r *Recorder) Record(ev core.HartEvent) core.HartEvent {
	if r == nil {
		return ev
	}
	r.mu.Lock()
	r.next++
	ev.Sequence = r.next
	if ev.Label == "" {
		ev.Label = ev.Hart.Label()
	}
	if len(r.events) == r.capacity {
		copy(r.events, r.events[1:])
		r.events = r.events[:len(r.events)-1]
		r.dropped++
	}
	r.events = append(r.events, ev)
	subs := make([]Subscriber, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
	return ev
}

// Events returns a copy of the retained timeline.
func (r *Recorder) Events() []core.HartEvent {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.HartEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Since returns retained events with a sequence greater than seq.
func (r *Recorder) Since(seq int64) []core.HartEvent {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.HartEvent, 0)
	for _, ev := range r.events {
		if ev.Sequence > seq {
			out = append(out, ev)
		}
	}
	return out
}

// ForHart returns the retained events of one hart.
func (r *Recorder) ForHart(h core.HartID) []core.HartEvent {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.HartEvent, 0)
	for _, ev := range r.events {
		if ev.Hart == h {
			out = append(out, ev)
		}
	}
	return out
}

// Dropped returns the number of events evicted by the capacity bound.
func (r *Recorder) Dropped() int64 {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Reset discards the timeline. Sequence numbers keep increasing.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = r.events[:0]
	r.dropped = 0
	r.mu.Unlock()
}

// Bundle returns the hooks that feed this recorder.
func (r *Recorder) Bundle() hooks.HookBundle {
	return hooks.HookBundle{
		StateChange: []hooks.StateChangeHook{func(ctx *hooks.StateContext) error {
			r.Record(core.HartEvent{Hart: ctx.Hart, Type: core.EventStateChange, From: ctx.From, To: ctx.To, Target: core.NoHart, Cycle: ctx.Cycle})
			return nil
		}},
		Signal: []hooks.SignalHook{func(ctx *hooks.SignalContext) error {
			typ := core.EventSignal
			if ctx.Resend {
				typ = core.EventResend
			}
			r.Record(core.HartEvent{Hart: ctx.Source, Type: typ, Target: ctx.Target, Cycle: ctx.Cycle})
			return nil
		}},
		Interrupt: []hooks.InterruptHook{func(ctx *hooks.InterruptContext) error {
			r.Record(core.HartEvent{
				Hart:     ctx.Hart,
				Type:     core.EventInterrupt,
				Target:   core.NoHart,
				Cycle:    ctx.Cycle,
				Metadata: map[string]string{"count": strconv.FormatUint(ctx.Count, 10)},
			})
			return nil
		}},
		Lock: []hooks.LockHook{func(ctx *hooks.LockContext) error {
			typ := core.EventLockReleased
			if ctx.Acquired {
				typ = core.EventLockAcquired
			}
			r.Record(core.HartEvent{Hart: ctx.Hart, Type: typ, Target: core.NoHart, Cycle: ctx.Cycle, Metadata: map[string]string{"lock": ctx.Lock}})
			return nil
		}},
		Wait: []hooks.WaitHook{func(ctx *hooks.WaitContext) error {
			typ := core.EventResumed
			if ctx.Parked {
				typ = core.EventParked
			}
			r.Record(core.HartEvent{Hart: ctx.Hart, Type: typ, Target: core.NoHart, Cycle: ctx.Cycle})
			return nil
		}},
		Fault: []hooks.FaultHook{func(ctx *hooks.FaultContext) error {
			meta := map[string]string{}
			if ctx.Err != nil {
				meta["error"] = ctx.Err.Error()
			}
			r.Record(core.HartEvent{Hart: ctx.Hart, Type: core.EventFault, Target: core.NoHart, Cycle: ctx.Cycle, Metadata: meta})
			return nil
		}},
	}
}
