package clint

import (
	"context"
	"sync"
)

// Signal tracks a monotonically increasing generation. Raise bumps the
// generation of the target hart; parked harts wait for it to move past the
// value they observed before re-checking their pending bit.
type Signal struct {
	mu      sync.Mutex
	value   uint64
	changed chan struct{}
}

// NewSignal creates a Signal at generation zero.
func NewSignal() *Signal {
	return &Signal{changed: make(chan struct{})}
}

// Bump advances the generation and wakes all waiters.
func (s *Signal) Bump() {
	s.mu.Lock()
	s.value++
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Value returns the current generation.
func (s *Signal) Value() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// WaitPast blocks until the generation is greater than after or ctx is done.
func (s *Signal) WaitPast(ctx context.Context, after uint64) error {
	for {
		s.mu.Lock()
		if s.value > after {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
