package simulator

import (
	"context"
	"sync/atomic"
)

// CommandSource provides control commands from an external producer.
type CommandSource[T any] interface {
	NextCommand() (T, bool)
	WaitCommand(context.Context) (T, bool)
}

// CommandHandler consumes control commands and determines whether processing should continue.
type CommandHandler[T any] interface {
	HandleCommand(T) bool
}

// CommandHandlerFunc adapts a function into a CommandHandler.
type CommandHandlerFunc[T any] func(T) bool

// HandleCommand calls the underlying function.
func (f CommandHandlerFunc[T]) HandleCommand(cmd T) bool {
	if f == nil {
		return true
	}
	return f(cmd)
}

// CommandLoop drains and dispatches control commands and counts what it
// dispatched.
type CommandLoop[T any] struct {
	source  CommandSource[T]
	handler CommandHandler[T]
	handled atomic.Int64
}

// NewCommandLoop creates a command loop with the given source and handler.
func NewCommandLoop[T any](source CommandSource[T], handler CommandHandler[T]) *CommandLoop[T] {
	return &CommandLoop[T]{
		source:  source,
		handler: handler,
	}
}

func (c *CommandLoop[T]) ready() bool {
	return c != nil && c.handler != nil && c.source != nil
}

func (c *CommandLoop[T]) dispatch(cmd T) bool {
	c.handled.Add(1)
	return c.handler.HandleCommand(cmd)
}

// DrainPending pulls all currently available commands from the source until exhaustion or handler termination.
func (c *CommandLoop[T]) DrainPending() bool {
	if !c.ready() {
		return true
	}
	for {
		cmd, ok := c.source.NextCommand()
		if !ok {
			return true
		}
		if !c.dispatch(cmd) {
			return false
		}
	}
}

// WaitAndHandle blocks until a command is available (or context cancellation) and dispatches it.
func (c *CommandLoop[T]) WaitAndHandle(ctx context.Context) bool {
	if !c.ready() {
		return true
	}
	cmd, ok := c.source.WaitCommand(ctx)
	if !ok {
		return true
	}
	return c.dispatch(cmd)
}

// Handled returns the number of commands dispatched so far.
func (c *CommandLoop[T]) Handled() int64 {
	if c == nil {
		return 0
	}
	return c.handled.Load()
}
