package hooks

import (
	"errors"
	"testing"

	"github.com/Readm/hart_sim/core"
)

func TestStateChangeHooksRunInOrder(t *testing.T) {
	b := NewPluginBroker()
	order := make([]string, 0, 2)

	b.RegisterStateChange(func(ctx *StateContext) error {
		order = append(order, "first:"+ctx.To.String())
		return nil
	})
	b.RegisterStateChange(func(ctx *StateContext) error {
		order = append(order, "second:"+ctx.To.String())
		return nil
	})

	ctx := &StateContext{Hart: 1, From: core.StateWaiting, To: core.StateSignaled}
	if err := b.EmitStateChange(ctx); err != nil {
		t.Fatalf("EmitStateChange returned error: %v", err)
	}
	if len(order) != 2 || order[0] != "first:SIGNALED" || order[1] != "second:SIGNALED" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestHookErrorStopsProcessing(t *testing.T) {
	b := NewPluginBroker()
	calls := 0

	b.RegisterSignal(func(ctx *SignalContext) error {
		calls++
		return errors.New("hook fail")
	})
	b.RegisterSignal(func(ctx *SignalContext) error {
		calls++
		return nil
	})

	err := b.EmitSignal(&SignalContext{Source: 0, Target: 2})
	if err == nil {
		t.Fatalf("expected error from signal hook")
	}
	if calls != 1 {
		t.Fatalf("expected only first hook to run, calls=%d", calls)
	}
}

func TestBundleRegistersEveryHookKind(t *testing.T) {
	b := NewPluginBroker()
	seen := make(map[string]int)
	desc := PluginDescriptor{Name: "all", Category: PluginCategoryTrace}
	b.RegisterBundle(desc, HookBundle{
		StateChange: []StateChangeHook{func(*StateContext) error { seen["state"]++; return nil }},
		Signal:      []SignalHook{func(*SignalContext) error { seen["signal"]++; return nil }},
		Interrupt:   []InterruptHook{func(*InterruptContext) error { seen["irq"]++; return nil }},
		Lock:        []LockHook{func(*LockContext) error { seen["lock"]++; return nil }},
		Wait:        []WaitHook{func(*WaitContext) error { seen["wait"]++; return nil }},
		Fault:       []FaultHook{func(*FaultContext) error { seen["fault"]++; return nil }},
	})

	_ = b.EmitStateChange(&StateContext{})
	_ = b.EmitSignal(&SignalContext{})
	_ = b.EmitInterrupt(&InterruptContext{})
	_ = b.EmitLock(&LockContext{})
	_ = b.EmitWait(&WaitContext{})
	_ = b.EmitFault(&FaultContext{})

	for _, k := range []string{"state", "signal", "irq", "lock", "wait", "fault"} {
		if seen[k] != 1 {
			t.Fatalf("hook %s ran %d times", k, seen[k])
		}
	}
	if got := b.ListPlugins(PluginCategoryTrace); len(got) != 1 || got[0].Name != "all" {
		t.Fatalf("expected descriptor in trace catalog, got %v", got)
	}
}

func TestNilBrokerIsSafe(t *testing.T) {
	var b *PluginBroker
	b.RegisterFault(func(*FaultContext) error { return nil })
	if err := b.EmitFault(&FaultContext{Hart: 1}); err != nil {
		t.Fatalf("nil broker should swallow emits, got %v", err)
	}
	if b.ListAllPlugins() != nil {
		t.Fatalf("nil broker should list nothing")
	}
}
