// Package spinlock implements the single-word mutual-exclusion primitive
// shared by all harts.
//
// A lock is one aligned 32-bit word: 0 free, 1 held. Acquire spins on an
// atomic compare-and-swap from 0 to 1; Release stores 0. There is no timeout
// and no fairness, so a hart can starve under contention. A second word next
// to the lock records the holder for debug assertions only; the lock word is
// the sole arbiter.
package spinlock

import (
	"runtime"
	"sync/atomic"

	"github.com/Readm/hart_sim/core"
)

const (
	free uint32 = 0
	held uint32 = 1
)

// Spinlock is a handle on a lock word and its owner word.
type Spinlock struct {
	word  *uint32
	owner *uint32 // holder id + 1, 0 when free
	local [2]uint32
}

// New returns a free lock backed by its own words.
func New() *Spinlock {
	l := &Spinlock{}
	l.word = &l.local[0]
	l.owner = &l.local[1]
	return l
}

// At binds a lock to words in shared memory. Both pointers must be 4-byte
// aligned. The words are not modified; call Init before first use.
func At(word, owner *uint32) *Spinlock {
	return &Spinlock{word: word, owner: owner}
}

// Init marks the lock free. It must happen-before any Acquire.
func (l *Spinlock) Init() {
	atomic.StoreUint32(l.owner, 0)
	atomic.StoreUint32(l.word, free)
}

// Acquire spins until hart h owns the lock.
func (l *Spinlock) Acquire(h core.HartID) {
	l.checkRecursive(h)
	for !atomic.CompareAndSwapUint32(l.word, free, held) {
		runtime.Gosched()
	}
	atomic.StoreUint32(l.owner, uint32(h)+1)
}

// TryAcquire makes a single attempt and reports whether h now owns the lock.
func (l *Spinlock) TryAcquire(h core.HartID) bool {
	l.checkRecursive(h)
	if !atomic.CompareAndSwapUint32(l.word, free, held) {
		return false
	}
	atomic.StoreUint32(l.owner, uint32(h)+1)
	return true
}

// Release frees the lock. h must be the holder.
func (l *Spinlock) Release(h core.HartID) {
	if atomic.LoadUint32(l.word) == free {
		core.Violate(core.ViolationReleaseFree, h, "release of a free lock")
	}
	if holder, ok := l.Holder(); ok && holder != h {
		core.Violate(core.ViolationReleaseForeign, h, "lock is held by %s", holder.Label())
	}
	atomic.StoreUint32(l.owner, 0)
	atomic.StoreUint32(l.word, free)
}

// With runs fn while h holds the lock and releases it on every exit path.
func (l *Spinlock) With(h core.HartID, fn func() error) error {
	l.Acquire(h)
	defer l.Release(h)
	return fn()
}

// Held reports whether the lock word is currently set.
func (l *Spinlock) Held() bool {
	return atomic.LoadUint32(l.word) == held
}

// Holder returns the hart recorded as owner. The owner word trails the lock
// word, so the answer is advisory.
func (l *Spinlock) Holder() (core.HartID, bool) {
	v := atomic.LoadUint32(l.owner)
	if v == 0 {
		return core.NoHart, false
	}
	return core.HartID(v - 1), true
}

func (l *Spinlock) checkRecursive(h core.HartID) {
	if holder, ok := l.Holder(); ok && holder == h && l.Held() {
		core.Violate(core.ViolationRecursiveAcquire, h, "hart already holds the lock")
	}
}
