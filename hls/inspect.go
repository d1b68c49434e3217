package hls

import (
	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/memory"
)

// DebugView is the read-only window the monitor may take on another hart's
// HLS: the WFI marker, and after the run the boot flags and counters.
type DebugView struct {
	mem  *memory.Arena
	base uint64
}

// Inspect opens the debug view of hart h.
func Inspect(mem *memory.Arena, link LinkMap, h core.HartID) DebugView {
	return DebugView{mem: mem, base: link.HLSBase(h)}
}

// WFIIndicator atomically reads the marker word.
func (v DebugView) WFIIndicator() uint32 {
	w, _ := v.mem.LoadUint32(v.base + OffsetWFIIndicator)
	return w
}

// InWFI reports whether the hart announced it is parked.
func (v DebugView) InWFI() bool {
	return v.WFIIndicator() == core.HLSDataInWFI
}

// PassedWFI reports whether the hart announced it left the wait.
func (v DebugView) PassedWFI() bool {
	return v.WFIIndicator() == core.HLSDataPassedWFI
}

// BootFlags reads the owner's boot-stage flags.
func (v DebugView) BootFlags() uint64 {
	f, _ := v.mem.LoadUint64(v.base + OffsetBootFlags)
	return f
}

// SoftInts reads the owner's software interrupt count.
func (v DebugView) SoftInts() uint64 {
	n, _ := v.mem.LoadUint64(v.base + OffsetSoftInts)
	return n
}

// HartID reads the identity stored by the owner.
func (v DebugView) HartID() core.HartID {
	id, _ := v.mem.LoadUint32(v.base + OffsetHartID)
	return core.HartID(id)
}
