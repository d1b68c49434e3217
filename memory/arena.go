// Package memory provides the simulated on-chip memory that holds hart
// stacks, hart-local storage and the shared region.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Order is the byte order of the simulated SoC.
var Order = binary.LittleEndian

var (
	// ErrOutOfRange is returned for accesses outside the arena.
	ErrOutOfRange = errors.New("address out of range")
	// ErrMisaligned is returned for word accesses that are not naturally aligned.
	ErrMisaligned = errors.New("misaligned word access")
)

// Arena is a contiguous block of simulated physical memory starting at Base.
// Word accessors hand out pointers into the backing mapping so that atomic
// operations from different harts act on the same memory word.
type Arena struct {
	base    uint64
	mem     []byte
	release func([]byte) error
}

// New maps size bytes of zeroed memory addressed from base.
func New(base, size uint64) (*Arena, error) {
	if size == 0 {
		return nil, fmt.Errorf("arena size must be positive")
	}
	if base%8 != 0 {
		return nil, fmt.Errorf("arena base %#x: %w", base, ErrMisaligned)
	}
	mem, release, err := mapMemory(int(size))
	if err != nil {
		return nil, fmt.Errorf("map %d bytes: %w", size, err)
	}
	return &Arena{base: base, mem: mem, release: release}, nil
}

// Close unmaps the arena. Pointers obtained from it become invalid.
func (a *Arena) Close() error {
	if a == nil || a.mem == nil {
		return nil
	}
	mem := a.mem
	a.mem = nil
	if a.release == nil {
		return nil
	}
	return a.release(mem)
}

// Base returns the first simulated address.
func (a *Arena) Base() uint64 {
	if a == nil {
		return 0
	}
	return a.base
}

// Size returns the arena length in bytes.
func (a *Arena) Size() uint64 {
	if a == nil {
		return 0
	}
	return uint64(len(a.mem))
}

// Contains reports whether [addr, addr+n) lies within the arena.
func (a *Arena) Contains(addr, n uint64) bool {
	if a == nil || addr < a.base {
		return false
	}
	off := addr - a.base
	return off <= uint64(len(a.mem)) && n <= uint64(len(a.mem))-off
}

func (a *Arena) offset(addr, n, align uint64) (uint64, error) {
	if !a.Contains(addr, n) {
		return 0, fmt.Errorf("%#x+%d: %w", addr, n, ErrOutOfRange)
	}
	if align > 1 && addr%align != 0 {
		return 0, fmt.Errorf("%#x: %w", addr, ErrMisaligned)
	}
	return addr - a.base, nil
}

// Bytes returns the n bytes at addr, aliasing the arena.
func (a *Arena) Bytes(addr, n uint64) ([]byte, error) {
	off, err := a.offset(addr, n, 1)
	if err != nil {
		return nil, err
	}
	return a.mem[off : off+n : off+n], nil
}

// Zero clears n bytes at addr.
func (a *Arena) Zero(addr, n uint64) error {
	b, err := a.Bytes(addr, n)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = 0
	}
	return nil
}

// Word returns a pointer to the aligned 32-bit word at addr.
func (a *Arena) Word(addr uint64) (*uint32, error) {
	off, err := a.offset(addr, 4, 4)
	if err != nil {
		return nil, err
	}
	return (*uint32)(unsafe.Pointer(&a.mem[off])), nil
}

// DoubleWord returns a pointer to the aligned 64-bit word at addr.
func (a *Arena) DoubleWord(addr uint64) (*uint64, error) {
	off, err := a.offset(addr, 8, 8)
	if err != nil {
		return nil, err
	}
	return (*uint64)(unsafe.Pointer(&a.mem[off])), nil
}

// Uint32 performs a plain little-endian load.
func (a *Arena) Uint32(addr uint64) (uint32, error) {
	b, err := a.Bytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return Order.Uint32(b), nil
}

// PutUint32 performs a plain little-endian store.
func (a *Arena) PutUint32(addr uint64, v uint32) error {
	b, err := a.Bytes(addr, 4)
	if err != nil {
		return err
	}
	Order.PutUint32(b, v)
	return nil
}

// Uint64 performs a plain little-endian load.
func (a *Arena) Uint64(addr uint64) (uint64, error) {
	b, err := a.Bytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return Order.Uint64(b), nil
}

// PutUint64 performs a plain little-endian store.
func (a *Arena) PutUint64(addr uint64, v uint64) error {
	b, err := a.Bytes(addr, 8)
	if err != nil {
		return err
	}
	Order.PutUint64(b, v)
	return nil
}

// LoadUint32 is an atomic load of the word at addr.
func (a *Arena) LoadUint32(addr uint64) (uint32, error) {
	w, err := a.Word(addr)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(w), nil
}

// StoreUint32 is an atomic store of the word at addr.
func (a *Arena) StoreUint32(addr uint64, v uint32) error {
	w, err := a.Word(addr)
	if err != nil {
		return err
	}
	atomic.StoreUint32(w, v)
	return nil
}

// LoadUint64 is an atomic load of the double word at addr.
func (a *Arena) LoadUint64(addr uint64) (uint64, error) {
	w, err := a.DoubleWord(addr)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64(w), nil
}

// StoreUint64 is an atomic store of the double word at addr.
func (a *Arena) StoreUint64(addr uint64, v uint64) error {
	w, err := a.DoubleWord(addr)
	if err != nil {
		return err
	}
	atomic.StoreUint64(w, v)
	return nil
}
