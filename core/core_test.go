package core

import "testing"

func TestCanAdvanceFollowsBaselineOrder(t *testing.T) {
	order := []WakeState{StateReset, StateWaiting, StateSignaled, StateCleared, StateRunning, StateHalted}
	for i := 0; i+1 < len(order); i++ {
		if !CanAdvance(order[i], order[i+1]) {
			t.Fatalf("expected %s -> %s to be legal", order[i], order[i+1])
		}
	}
	if CanAdvance(StateRunning, StateWaiting) {
		t.Fatalf("RUNNING must not return to WAITING")
	}
	if CanAdvance(StateSignaled, StateSignaled) {
		t.Fatalf("repeated state must be rejected")
	}
	if !CanAdvance(StateReset, StateRunning) {
		t.Fatalf("start-immediately path must be legal")
	}
}

func TestEntryNames(t *testing.T) {
	cases := map[HartID]string{0: "e51", 1: "u54_1", 4: "u54_4"}
	for id, want := range cases {
		if got := id.EntryName(); got != want {
			t.Fatalf("hart %d: got %q want %q", id, got, want)
		}
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(""); err != nil || r != RoleWaitForRelease {
		t.Fatalf("empty role should default to wait, got %q err=%v", r, err)
	}
	if _, err := ParseRole("sleepy"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestViolateCarriesKind(t *testing.T) {
	defer func() {
		v, ok := AsViolation(recover())
		if !ok {
			t.Fatalf("expected ProtocolViolation panic")
		}
		if v.Kind != ViolationWakeRunning || v.Hart != 3 {
			t.Fatalf("unexpected violation %+v", v)
		}
	}()
	Violate(ViolationWakeRunning, 3, "raised twice")
}

func TestAscendingSkipsMonitor(t *testing.T) {
	got := Ascending(0, 4, MonitorHart)
	want := []HartID{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestWakeStateText(t *testing.T) {
	var s WakeState
	if err := s.UnmarshalText([]byte("CLEARED")); err != nil || s != StateCleared {
		t.Fatalf("expected CLEARED, got %v %v", s, err)
	}
	if err := s.UnmarshalText([]byte("PARKED")); err == nil {
		t.Fatalf("expected error for unknown state")
	}
}
