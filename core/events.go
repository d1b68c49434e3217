package core

// EventType represents the type of rendezvous event.
type EventType string

const (
	EventStateChange  EventType = "StateChange"
	EventSignal       EventType = "Signal"
	EventResend       EventType = "Resend"
	EventInterrupt    EventType = "Interrupt"
	EventParked       EventType = "Parked"
	EventResumed      EventType = "Resumed"
	EventLockAcquired EventType = "LockAcquired"
	EventLockReleased EventType = "LockReleased"
	EventFault        EventType = "Fault"
)

// HartEvent is one entry in the rendezvous timeline.
type HartEvent struct {
	Sequence int64             `json:"sequence"`
	Hart     HartID            `json:"hart"`
	Label    string            `json:"label"` // "hart 0", "hart 3", etc.
	Type     EventType         `json:"type"`
	From     WakeState         `json:"from,omitempty"`
	To       WakeState         `json:"to,omitempty"`
	Target   HartID            `json:"target"`
	Cycle    int               `json:"cycle"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HartSnapshot is the externally visible state of one hart.
type HartSnapshot struct {
	ID             HartID    `json:"id"`
	Entry          string    `json:"entry"`
	Role           Role      `json:"role"`
	State          WakeState `json:"state"`
	SoftInts       uint64    `json:"softInts"`
	Rewakes        uint64    `json:"rewakes"`
	WFIIndicator   uint32    `json:"wfiIndicator"`
	BootFlags      uint64    `json:"bootFlags"`
	HLSBase        uint64    `json:"hlsBase"`
	PendingSoftInt bool      `json:"pendingSoftInt"`
}
