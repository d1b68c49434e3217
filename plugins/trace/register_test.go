package trace

import (
	"errors"
	"testing"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/hooks"
)

func TestRegisterInstallsBundle(t *testing.T) {
	broker := hooks.NewPluginBroker()
	reg := hooks.NewRegistry(broker)
	rec := NewRecorder(0)
	if err := Register(reg, Options{Recorder: rec}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.LoadGlobal([]string{PluginName}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	_ = broker.EmitStateChange(&hooks.StateContext{Hart: 2, From: core.StateReset, To: core.StateWaiting})
	_ = broker.EmitSignal(&hooks.SignalContext{Source: 0, Target: 2})
	_ = broker.EmitSignal(&hooks.SignalContext{Source: 0, Target: 2, Resend: true})
	_ = broker.EmitInterrupt(&hooks.InterruptContext{Hart: 2, Count: 1})
	_ = broker.EmitLock(&hooks.LockContext{Hart: 2, Lock: "uart0", Acquired: true})
	_ = broker.EmitWait(&hooks.WaitContext{Hart: 2, Parked: true})
	_ = broker.EmitFault(&hooks.FaultContext{Hart: 2, Err: errors.New("boom")})

	events := rec.Events()
	want := []core.EventType{
		core.EventStateChange, core.EventSignal, core.EventResend, core.EventInterrupt,
		core.EventLockAcquired, core.EventParked, core.EventFault,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], ev.Type)
		}
		if ev.Sequence != int64(i+1) {
			t.Fatalf("event %d: expected sequence %d, got %d", i, i+1, ev.Sequence)
		}
	}
	if events[1].Target != 2 || events[1].Hart != 0 {
		t.Fatalf("signal event should go from hart 0 to hart 2, got %+v", events[1])
	}
	if events[6].Metadata["error"] != "boom" {
		t.Fatalf("fault metadata missing: %+v", events[6].Metadata)
	}
	if len(broker.ListPlugins(hooks.PluginCategoryTrace)) != 1 {
		t.Fatalf("expected trace plugin metadata")
	}
}

func TestRegisterRequiresRecorder(t *testing.T) {
	if err := Register(hooks.NewRegistry(nil), Options{}); err == nil {
		t.Fatalf("expected error without recorder")
	}
	if err := Register(nil, Options{Recorder: NewRecorder(1)}); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func TestRecorderCapacityAndSince(t *testing.T) {
	rec := NewRecorder(2)
	var pushed []int64
	rec.Subscribe(func(ev core.HartEvent) { pushed = append(pushed, ev.Sequence) })
	for i := 0; i < 3; i++ {
		rec.Record(core.HartEvent{Hart: core.HartID(i), Type: core.EventInterrupt})
	}
	events := rec.Events()
	if len(events) != 2 || events[0].Sequence != 2 {
		t.Fatalf("expected the two newest events, got %+v", events)
	}
	if rec.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", rec.Dropped())
	}
	if got := rec.Since(2); len(got) != 1 || got[0].Sequence != 3 {
		t.Fatalf("unexpected Since result %+v", got)
	}
	if got := rec.ForHart(1); len(got) != 1 || got[0].Label != "hart 1" {
		t.Fatalf("unexpected ForHart result %+v", got)
	}
	if len(pushed) != 3 {
		t.Fatalf("expected 3 pushes, got %d", len(pushed))
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("reset should empty the timeline")
	}
	if ev := rec.Record(core.HartEvent{}); ev.Sequence != 4 {
		t.Fatalf("sequence should survive reset, got %d", ev.Sequence)
	}
}
