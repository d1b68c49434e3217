package core

import "fmt"

// WakeState is the per-hart position in the boot rendezvous.
type WakeState int32

const (
	// StateReset is the state before shared startup completes.
	StateReset WakeState = iota
	// StateWaiting: the hart spins in its WFI loop, pending bit clear.
	StateWaiting
	// StateSignaled: the directed software interrupt has been raised.
	StateSignaled
	// StateCleared: the woken hart has observed the interrupt and cleared its pending bit.
	StateCleared
	// StateRunning: the hart is executing its entry point.
	StateRunning
	// StateHalted: the entry point returned; fatal and terminal.
	StateHalted
)

var wakeStateNames = [...]string{
	StateReset:    "RESET",
	StateWaiting:  "WAITING",
	StateSignaled: "SIGNALED",
	StateCleared:  "CLEARED",
	StateRunning:  "RUNNING",
	StateHalted:   "HALTED",
}

func (s WakeState) String() string {
	if s < 0 || int(s) >= len(wakeStateNames) {
		return "UNKNOWN"
	}
	return wakeStateNames[s]
}

// MarshalText lets states appear by name in JSON frames.
func (s WakeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *WakeState) UnmarshalText(text []byte) error {
	for i, name := range wakeStateNames {
		if name == string(text) {
			*s = WakeState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown wake state %q", text)
}

// CanAdvance reports whether from -> to is a legal forward transition.
// Startup may skip WAITING..CLEARED for harts that start immediately.
func CanAdvance(from, to WakeState) bool {
	switch from {
	case StateReset:
		return to == StateWaiting || to == StateRunning
	case StateWaiting:
		return to == StateSignaled
	case StateSignaled:
		return to == StateCleared
	case StateCleared:
		return to == StateRunning
	case StateRunning:
		return to == StateHalted
	default:
		return false
	}
}
