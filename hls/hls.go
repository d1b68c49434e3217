package hls

import (
	"fmt"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/memory"
)

// Block is the owning hart's view of its HLS. Only the owning hart may hold
// a Block; other harts use Inspect. Fields are word-sized and accessed with
// atomic loads and stores so diagnostics may read them while the hart runs.
type Block struct {
	mem  *memory.Arena
	base uint64
	size uint64
}

// Bind returns the block at base. Callers obtain base from their own
// thread-pointer register, never from another hart's id.
func Bind(mem *memory.Arena, base, size uint64) (Block, error) {
	if size < MinBlockSize {
		return Block{}, fmt.Errorf("HLS block size %d smaller than %d", size, MinBlockSize)
	}
	if !mem.Contains(base, size) {
		return Block{}, fmt.Errorf("HLS block %#x+%d: %w", base, size, memory.ErrOutOfRange)
	}
	if base%8 != 0 {
		return Block{}, fmt.Errorf("HLS block %#x: %w", base, memory.ErrMisaligned)
	}
	return Block{mem: mem, base: base, size: size}, nil
}

// Base returns the block address.
func (b Block) Base() uint64 {
	return b.base
}

// Clear zeroes the whole block. Fields are cleared with word stores since
// the monitor may already be watching the WFI marker.
func (b Block) Clear() {
	for off := uint64(0); off < OffsetDebugArea; off += 8 {
		_ = b.mem.StoreUint64(b.base+off, 0)
	}
	_ = b.mem.Zero(b.base+OffsetDebugArea, b.size-OffsetDebugArea)
}

// HartID returns the identity stored at startup.
func (b Block) HartID() core.HartID {
	v, _ := b.mem.LoadUint32(b.base + OffsetHartID)
	return core.HartID(v)
}

// SetHartID records the owner identity.
func (b Block) SetHartID(h core.HartID) {
	_ = b.mem.StoreUint32(b.base+OffsetHartID, uint32(h))
}

// WFIIndicator returns the in-WFI marker word.
func (b Block) WFIIndicator() uint32 {
	v, _ := b.mem.LoadUint32(b.base + OffsetWFIIndicator)
	return v
}

// SetWFIIndicator publishes a marker for the monitor.
func (b Block) SetWFIIndicator(v uint32) {
	_ = b.mem.StoreUint32(b.base+OffsetWFIIndicator, v)
}

// SharedMem returns the shared region address, 0 when disabled.
func (b Block) SharedMem() uint64 {
	v, _ := b.mem.LoadUint64(b.base + OffsetSharedMem)
	return v
}

// SetSharedMem records the shared region address.
func (b Block) SetSharedMem(addr uint64) {
	_ = b.mem.StoreUint64(b.base+OffsetSharedMem, addr)
}

// BootFlags returns the boot-stage flags.
func (b Block) BootFlags() uint64 {
	v, _ := b.mem.LoadUint64(b.base + OffsetBootFlags)
	return v
}

// SetBootFlag ors flag into the boot-stage flags.
func (b Block) SetBootFlag(flag uint64) {
	_ = b.mem.StoreUint64(b.base+OffsetBootFlags, b.BootFlags()|flag)
}

// SoftInts returns the software interrupt count.
func (b Block) SoftInts() uint64 {
	v, _ := b.mem.LoadUint64(b.base + OffsetSoftInts)
	return v
}

// IncSoftInts bumps the software interrupt count.
func (b Block) IncSoftInts() uint64 {
	n := b.SoftInts() + 1
	_ = b.mem.StoreUint64(b.base+OffsetSoftInts, n)
	return n
}

// Debug returns the free debug scratch area of the block.
func (b Block) Debug() []byte {
	d, _ := b.mem.Bytes(b.base+OffsetDebugArea, b.size-OffsetDebugArea)
	return d
}
