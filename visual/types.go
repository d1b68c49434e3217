// Package visual holds the control commands the UI, console and schedule
// send to a running system.
package visual

import "github.com/Readm/hart_sim/core"

// ControlCommandType represents types of control instructions from UI.
type ControlCommandType string

const (
	CommandNone    ControlCommandType = "none"
	CommandRaise   ControlCommandType = "raise"
	CommandPublish ControlCommandType = "publish"
	CommandStatus  ControlCommandType = "status"
	CommandStop    ControlCommandType = "stop"
)

// ControlCommand captures a control instruction for the running system.
type ControlCommand struct {
	Type  ControlCommandType `json:"type"`
	Hart  core.HartID        `json:"hart"`
	Key   string             `json:"key,omitempty"`
	Value uint64             `json:"value,omitempty"`
	// Reply, when set, receives the outcome of the command.
	Reply chan<- error `json:"-"`
}

// Done reports err to the command's originator, if it asked for a reply.
func (c ControlCommand) Done(err error) {
	if c.Reply == nil {
		return
	}
	select {
	case c.Reply <- err:
	default:
	}
}
