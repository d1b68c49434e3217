package simulator

import (
	"context"
	"testing"
	"time"
)

type sliceSource struct {
	cmds chan string
}

func (s *sliceSource) NextCommand() (string, bool) {
	select {
	case c := <-s.cmds:
		return c, true
	default:
		return "", false
	}
}

func (s *sliceSource) WaitCommand(ctx context.Context) (string, bool) {
	select {
	case c := <-s.cmds:
		return c, true
	case <-ctx.Done():
		return "", false
	}
}

func TestRunnerStepDrainsUntilStop(t *testing.T) {
	src := &sliceSource{cmds: make(chan string, 8)}
	var got []string
	loop := NewCommandLoop[string](src, CommandHandlerFunc[string](func(c string) bool {
		got = append(got, c)
		return c != "stop"
	}))
	var frames []int
	r := NewRunner(loop, NewVisualBridge[int](false, func(f int) { frames = append(frames, f) }))

	if !r.Step(context.Background(), time.Millisecond) {
		t.Fatalf("empty step should continue")
	}
	for _, c := range []string{"a", "b", "stop", "c"} {
		src.cmds <- c
	}
	if r.Step(context.Background(), time.Second) {
		t.Fatalf("step should report the stop")
	}
	if len(got) != 3 || got[2] != "stop" {
		t.Fatalf("expected a, b, stop dispatched, got %v", got)
	}
	if r.Handled() != 3 {
		t.Fatalf("expected 3 handled, got %d", r.Handled())
	}

	r.PublishFrame(7)
	if len(frames) != 1 || frames[0] != 7 || !r.VisualEnabled() {
		t.Fatalf("expected frame 7 published, got %v", frames)
	}
}

func TestVisualBridgeHeadless(t *testing.T) {
	calls := 0
	b := NewVisualBridge[int](true, func(int) { calls++ })
	b.Publish(1)
	if calls != 0 || b.Published() != 0 {
		t.Fatalf("headless bridge published")
	}
	var nilBridge *VisualBridge[int]
	if !nilBridge.IsHeadless() {
		t.Fatalf("nil bridge should be headless")
	}
	nilBridge.Publish(1)
	if NewVisualBridge[int](false, nil).IsHeadless() != true {
		t.Fatalf("bridge without publisher should be headless")
	}
}
