// Package shared implements the optional memory region visible to every
// hart. Its layout is fixed at link time; every mutation happens inside a
// bracket on one of the embedded spinlocks.
package shared

import (
	"errors"
	"fmt"

	"github.com/Readm/hart_sim/core"
	"github.com/Readm/hart_sim/memory"
	"github.com/Readm/hart_sim/spinlock"
)

// Magic marks an initialized region header.
const Magic uint64 = 0x4841_5254_5348_5244 // "HARTSHRD"

const (
	headerSize = 8
	slotSize   = 8
)

var (
	// ErrNotInitialized is returned by Attach before the monitor ran Init.
	ErrNotInitialized = errors.New("shared region not initialized")
	// ErrUnknownLock is returned for lock names outside the layout.
	ErrUnknownLock = errors.New("unknown shared lock")
	// ErrUnknownCounter is returned for counter names outside the layout.
	ErrUnknownCounter = errors.New("unknown shared counter")
	// ErrWrongLock is returned when a counter is touched under a lock that does not guard it.
	ErrWrongLock = errors.New("counter accessed under the wrong lock")
)

// Layout names the lock slots and counters of the region, in address order.
// Guards optionally pins a counter to the lock that protects it.
type Layout struct {
	Locks    []string          `json:"locks"`
	Counters []string          `json:"counters"`
	Guards   map[string]string `json:"guards,omitempty"`
}

// DefaultLayout carries the UART mutexes and boot bookkeeping used by the
// example entry points.
func DefaultLayout() Layout {
	return Layout{
		Locks:    []string{"boot", "uart0", "uart1"},
		Counters: []string{"boot_count", "wake_token", "uart0_lines", "uart1_lines"},
		Guards: map[string]string{
			"boot_count":  "boot",
			"wake_token":  "boot",
			"uart0_lines": "uart0",
			"uart1_lines": "uart1",
		},
	}
}

// Size returns the bytes the layout occupies.
func (l Layout) Size() uint64 {
	return headerSize + slotSize*uint64(len(l.Locks)+len(l.Counters))
}

func (l Layout) lockOffset(name string) (uint64, bool) {
	for i, n := range l.Locks {
		if n == name {
			return headerSize + slotSize*uint64(i), true
		}
	}
	return 0, false
}

func (l Layout) counterOffset(name string) (uint64, bool) {
	for i, n := range l.Counters {
		if n == name {
			return headerSize + slotSize*uint64(len(l.Locks)+i), true
		}
	}
	return 0, false
}

// Region is one hart's handle on the shared block.
type Region struct {
	mem    *memory.Arena
	base   uint64
	layout Layout
	locks  map[string]*spinlock.Spinlock
}

// Init prepares the region at base: zeroes it, frees every lock, then
// publishes the header. Run once, by the monitor, before any hart is released.
func Init(mem *memory.Arena, base uint64, layout Layout) (*Region, error) {
	if base%8 != 0 {
		return nil, fmt.Errorf("shared region %#x: %w", base, memory.ErrMisaligned)
	}
	if err := mem.Zero(base, layout.Size()); err != nil {
		return nil, fmt.Errorf("clear shared region: %w", err)
	}
	r, err := bind(mem, base, layout)
	if err != nil {
		return nil, err
	}
	for _, l := range r.locks {
		l.Init()
	}
	if err := mem.StoreUint64(base, Magic); err != nil {
		return nil, err
	}
	return r, nil
}

// Attach opens an initialized region.
func Attach(mem *memory.Arena, base uint64, layout Layout) (*Region, error) {
	v, err := mem.LoadUint64(base)
	if err != nil {
		return nil, fmt.Errorf("read shared header: %w", err)
	}
	if v != Magic {
		return nil, ErrNotInitialized
	}
	return bind(mem, base, layout)
}

func bind(mem *memory.Arena, base uint64, layout Layout) (*Region, error) {
	if !mem.Contains(base, layout.Size()) {
		return nil, fmt.Errorf("shared region %#x+%d: %w", base, layout.Size(), memory.ErrOutOfRange)
	}
	r := &Region{
		mem:    mem,
		base:   base,
		layout: layout,
		locks:  make(map[string]*spinlock.Spinlock, len(layout.Locks)),
	}
	for _, name := range layout.Locks {
		off, _ := layout.lockOffset(name)
		word, err := mem.Word(base + off)
		if err != nil {
			return nil, err
		}
		owner, err := mem.Word(base + off + 4)
		if err != nil {
			return nil, err
		}
		r.locks[name] = spinlock.At(word, owner)
	}
	return r, nil
}

// Base returns the region address.
func (r *Region) Base() uint64 {
	return r.base
}

// Layout returns the agreed layout.
func (r *Region) Layout() Layout {
	return r.layout
}

// Lock returns the named embedded lock.
func (r *Region) Lock(name string) (*spinlock.Spinlock, error) {
	l, ok := r.locks[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownLock)
	}
	return l, nil
}

// With runs fn while hart h holds the named lock. The lock is released on
// every exit path, including errors and panics in fn.
func (r *Region) With(h core.HartID, lock string, fn func(*Access) error) error {
	l, err := r.Lock(lock)
	if err != nil {
		return err
	}
	l.Acquire(h)
	acc := &Access{region: r, hart: h, lock: lock}
	defer func() {
		acc.done = true
		l.Release(h)
	}()
	return fn(acc)
}

// Access is the mutation capability handed out inside With. It is bound to
// the bracket that created it.
type Access struct {
	region *Region
	hart   core.HartID
	lock   string
	done   bool
}

func (a *Access) check() {
	if a.done {
		core.Violate(core.ViolationUseAfterRelease, a.hart, "shared access used after releasing %q", a.lock)
	}
}

func (a *Access) offset(name string) (uint64, error) {
	a.check()
	off, ok := a.region.layout.counterOffset(name)
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrUnknownCounter)
	}
	if guard, ok := a.region.layout.Guards[name]; ok && guard != a.lock {
		return 0, fmt.Errorf("counter %q is guarded by %q, not %q: %w", name, guard, a.lock, ErrWrongLock)
	}
	return off, nil
}

// Counter reads a shared counter.
func (a *Access) Counter(name string) (uint64, error) {
	off, err := a.offset(name)
	if err != nil {
		return 0, err
	}
	return a.region.mem.Uint64(a.region.base + off)
}

// SetCounter stores a shared counter.
func (a *Access) SetCounter(name string, v uint64) error {
	off, err := a.offset(name)
	if err != nil {
		return err
	}
	return a.region.mem.PutUint64(a.region.base+off, v)
}

// Add increments a shared counter and returns the new value.
func (a *Access) Add(name string, delta uint64) (uint64, error) {
	v, err := a.Counter(name)
	if err != nil {
		return 0, err
	}
	v += delta
	return v, a.SetCounter(name, v)
}

// Snapshot reads every counter, each under its guarding lock. Counters
// without a guard are read under fallback.
func (r *Region) Snapshot(h core.HartID, fallback string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(r.layout.Counters))
	for _, name := range r.layout.Counters {
		lock := fallback
		if g, ok := r.layout.Guards[name]; ok {
			lock = g
		}
		err := r.With(h, lock, func(a *Access) error {
			v, err := a.Counter(name)
			out[name] = v
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
