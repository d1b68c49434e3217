package core

import "fmt"

// HartID identifies a physical hart. 0 is the monitor (E51), 1..4 are the
// application harts (U54) on the default five-hart complex.
type HartID int

const (
	// MonitorHart is the hart that configures shared hardware and releases the others.
	MonitorHart HartID = 0
	// DefaultHartCount matches the five-hart complex (one E51, four U54).
	DefaultHartCount = 5
	// NoHart marks an unowned lock or an unset identity.
	NoHart HartID = -1
)

// Valid reports whether the id addresses one of n harts.
func (h HartID) Valid(n int) bool {
	return h >= 0 && int(h) < n
}

// Label returns a short display label ("hart 2").
func (h HartID) Label() string {
	if h == NoHart {
		return "no hart"
	}
	return fmt.Sprintf("hart %d", int(h))
}

// EntryName returns the firmware entry symbol of the hart: e51 for the
// monitor, u54_N for application harts.
func (h HartID) EntryName() string {
	if h == MonitorHart {
		return "e51"
	}
	return fmt.Sprintf("u54_%d", int(h))
}

// Role selects how a hart leaves reset.
type Role string

const (
	// RoleMonitor configures hardware then releases workers.
	RoleMonitor Role = "monitor"
	// RoleWaitForRelease parks in WFI until the monitor raises its software interrupt.
	RoleWaitForRelease Role = "wait"
	// RoleStartImmediately skips the wait; the image was loaded onto the hart
	// directly by an external bootloader.
	RoleStartImmediately Role = "immediate"
)

// ParseRole decodes a role name as used in configuration files.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleMonitor, RoleWaitForRelease, RoleStartImmediately:
		return Role(s), nil
	case "":
		return RoleWaitForRelease, nil
	default:
		return "", fmt.Errorf("unknown hart role %q", s)
	}
}

// Ascending returns ids from first to last inclusive, skipping skip.
func Ascending(first, last, skip HartID) []HartID {
	out := make([]HartID, 0, int(last-first)+1)
	for h := first; h <= last; h++ {
		if h == skip {
			continue
		}
		out = append(out, h)
	}
	return out
}
