package main

import (
	"time"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/soc"
)

const (
	// DefaultFrameInterval is the delay between frames published to the UI.
	DefaultFrameInterval = 100 * time.Millisecond

	// DefaultRaiseTimeout bounds how long a raise waits for the target to
	// leave its wait.
	DefaultRaiseTimeout = 2 * time.Second

	// DefaultCommandBuffer is the capacity of the control command queue.
	DefaultCommandBuffer = 16

	// DefaultScheduleCapacity bounds the scheduled commands of one config.
	DefaultScheduleCapacity = 64

	// DefaultTraceCapacity is the number of events the trace keeps.
	DefaultTraceCapacity = 4096

	// DefaultFrameEvents bounds the events carried by one frame.
	DefaultFrameEvents = 256
)

// Frame is one published view of the running system.
type Frame struct {
	Sequence  int64              `json:"sequence"`
	Config    string             `json:"config"`
	ElapsedMs int64              `json:"elapsedMs"`
	Report    soc.Report         `json:"report"`
	Events    []core.HartEvent   `json:"events"`
	Dropped   int64              `json:"dropped"`
	Pending   []ScheduledCommand `json:"pending,omitempty"`
	Commands  int64              `json:"commands"`
	Done      bool               `json:"done"`
}
