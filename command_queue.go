package main

import (
	"context"

	"github.com/Readm/hart_sim/visual"
)

// CommandQueue abstracts command delivery to the running system. It is the
// command source of the app's command loop.
type CommandQueue interface {
	Enqueue(cmd visual.ControlCommand) bool
	NextCommand() (visual.ControlCommand, bool)
	WaitCommand(ctx context.Context) (visual.ControlCommand, bool)
}

type channelCommandQueue struct {
	ch chan visual.ControlCommand
}

func newChannelCommandQueue(buffer int) CommandQueue {
	return &channelCommandQueue{ch: make(chan visual.ControlCommand, buffer)}
}

func (q *channelCommandQueue) Enqueue(cmd visual.ControlCommand) bool {
	select {
	case q.ch <- cmd:
		return true
	default:
		return false
	}
}

func (q *channelCommandQueue) NextCommand() (visual.ControlCommand, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	default:
		return visual.ControlCommand{Type: visual.CommandNone}, false
	}
}

func (q *channelCommandQueue) WaitCommand(ctx context.Context) (visual.ControlCommand, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	case <-ctx.Done():
		return visual.ControlCommand{Type: visual.CommandNone}, false
	}
}
