// Package hls describes hart-local storage: the per-hart block placed just
// below each hart's stack top by the link map.
package hls

import (
	"errors"
	"fmt"

	"github.com/Readm/hart_sim/core"
)

// Field offsets inside an HLS block.
const (
	OffsetWFIIndicator = 0
	OffsetHartID       = 4
	OffsetSharedMem    = 8
	OffsetBootFlags    = 16
	OffsetSoftInts     = 24
	OffsetDebugArea    = 32

	// MinBlockSize is the smallest block that holds every field.
	MinBlockSize = OffsetDebugArea
)

// LinkMap is the build-time memory contract: stacks laid out back to back
// from StackBase, one HLS block at the top of each, the shared region
// directly above the last stack.
type LinkMap struct {
	StackBase     uint64
	StackSize     uint64
	DebugAreaSize uint64
	Harts         int
	SharedSize    uint64
}

// DefaultLinkMap mirrors the reference firmware layout for n harts.
func DefaultLinkMap(n int) LinkMap {
	return LinkMap{
		StackBase:     0x0800_0000,
		StackSize:     0x2000,
		DebugAreaSize: core.DefaultHLSDebugAreaSize,
		Harts:         n,
		SharedSize:    0x1000,
	}
}

// Validate checks the link map's invariants.
func (m LinkMap) Validate() error {
	if m.Harts <= 0 {
		return fmt.Errorf("link map needs at least one hart, got %d", m.Harts)
	}
	if m.DebugAreaSize < MinBlockSize {
		return fmt.Errorf("HLS debug area %d smaller than %d", m.DebugAreaSize, MinBlockSize)
	}
	if m.DebugAreaSize%8 != 0 {
		return fmt.Errorf("HLS debug area %d is not a multiple of 8", m.DebugAreaSize)
	}
	if m.StackSize <= m.DebugAreaSize {
		return fmt.Errorf("stack size %#x leaves no room below the HLS block", m.StackSize)
	}
	if m.StackSize%8 != 0 || m.StackBase%8 != 0 {
		return errors.New("stack base and size must be 8-byte aligned")
	}
	return nil
}

// StackBottom returns the lowest stack address of h.
func (m LinkMap) StackBottom(h core.HartID) uint64 {
	return m.StackBase + m.StackSize*uint64(h)
}

// StackTop returns the address one past the stack of h.
func (m LinkMap) StackTop(h core.HartID) uint64 {
	return m.StackBase + m.StackSize*uint64(h+1)
}

// HLSBase returns the address of the HLS block of h.
func (m LinkMap) HLSBase(h core.HartID) uint64 {
	return m.StackTop(h) - m.DebugAreaSize
}

// SharedBase returns the first address of the shared region.
func (m LinkMap) SharedBase() uint64 {
	return m.StackTop(core.HartID(m.Harts - 1))
}

// End returns the address one past everything the link map places.
func (m LinkMap) End() uint64 {
	return m.SharedBase() + m.SharedSize
}

// Span returns the number of bytes an arena needs to hold the layout.
func (m LinkMap) Span() uint64 {
	return m.End() - m.StackBase
}

// Symbol is a named address as a linker script would export it.
type Symbol struct {
	Name    string `json:"name"`
	Address uint64 `json:"address"`
}

// Symbols lists stack and shared-region symbols in address order.
func (m LinkMap) Symbols() []Symbol {
	out := make([]Symbol, 0, 2*m.Harts+2)
	for i := 0; i < m.Harts; i++ {
		h := core.HartID(i)
		out = append(out,
			Symbol{Name: fmt.Sprintf("__stack_bottom_h%d$", i), Address: m.StackBottom(h)},
			Symbol{Name: fmt.Sprintf("__stack_top_h%d$", i), Address: m.StackTop(h)},
		)
	}
	out = append(out,
		Symbol{Name: "__app_hart_common_start", Address: m.SharedBase()},
		Symbol{Name: "__app_hart_common_end", Address: m.End()},
	)
	return out
}
