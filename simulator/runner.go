package simulator

import (
	"context"
	"sync/atomic"
	"time"
)

// VisualBridge coordinates optional visualization publishing.
type VisualBridge[Frame any] struct {
	headless  bool
	publish   func(Frame)
	published atomic.Int64
}

// NewVisualBridge constructs a bridge with headless flag and publish callback.
func NewVisualBridge[Frame any](headless bool, publish func(Frame)) *VisualBridge[Frame] {
	return &VisualBridge[Frame]{
		headless: headless,
		publish:  publish,
	}
}

// IsHeadless reports whether visualization output is disabled.
func (v *VisualBridge[Frame]) IsHeadless() bool {
	if v == nil {
		return true
	}
	return v.headless || v.publish == nil
}

// Publish emits a frame when visualization is enabled.
func (v *VisualBridge[Frame]) Publish(frame Frame) {
	if v.IsHeadless() {
		return
	}
	v.published.Add(1)
	v.publish(frame)
}

// Published returns the number of frames handed to the publisher.
func (v *VisualBridge[Frame]) Published() int64 {
	if v == nil {
		return 0
	}
	return v.published.Load()
}

// Runner glues command handling and frame publishing for a host loop that
// runs beside the simulated harts.
type Runner[TCommand any, Frame any] struct {
	commandLoop *CommandLoop[TCommand]
	visual      *VisualBridge[Frame]
}

// NewRunner creates a new Runner instance.
func NewRunner[TCommand any, Frame any](loop *CommandLoop[TCommand], visual *VisualBridge[Frame]) *Runner[TCommand, Frame] {
	return &Runner[TCommand, Frame]{
		commandLoop: loop,
		visual:      visual,
	}
}

// Step waits up to wait for one command, then drains whatever else is
// queued. It returns false once a handler asks to stop.
func (r *Runner[TCommand, Frame]) Step(ctx context.Context, wait time.Duration) bool {
	if r == nil || r.commandLoop == nil {
		return true
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	keep := r.commandLoop.WaitAndHandle(wctx)
	cancel()
	if !keep {
		return false
	}
	return r.commandLoop.DrainPending()
}

// PublishFrame emits a frame through the visual bridge if visualization is enabled.
func (r *Runner[TCommand, Frame]) PublishFrame(frame Frame) {
	if r == nil || r.visual == nil {
		return
	}
	r.visual.Publish(frame)
}

// VisualEnabled reports whether visualization bridge is active.
func (r *Runner[TCommand, Frame]) VisualEnabled() bool {
	if r == nil || r.visual == nil {
		return false
	}
	return !r.visual.IsHeadless()
}

// Handled returns the number of commands the runner dispatched.
func (r *Runner[TCommand, Frame]) Handled() int64 {
	if r == nil {
		return 0
	}
	return r.commandLoop.Handled()
}
