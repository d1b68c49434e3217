// Package queue provides a bounded FIFO with length bookkeeping and hooks,
// safe for use from several goroutines.
package queue

import "sync"

const UnlimitedCapacity = -1

// MutateFunc is invoked after queue length or capacity changes.
type MutateFunc func(length int, capacity int)

// QueueHooks defines callbacks for queue lifecycle events. Hooks run with
// the queue lock held and must not call back into the queue.
type QueueHooks[T any] struct {
	OnEnqueue func(item T)
	OnDequeue func(item T)
	OnReject  func(item T)
}

// TrackedQueue maintains items with length/capacity bookkeeping and hooks.
type TrackedQueue[T any] struct {
	mu       sync.Mutex
	name     string
	capacity int
	items    []T
	hooks    QueueHooks[T]
	mutate   MutateFunc
}

// NewTrackedQueue constructs a tracked queue with optional hooks and mutate callback.
func NewTrackedQueue[T any](name string, capacity int, mutate MutateFunc, hooks QueueHooks[T]) *TrackedQueue[T] {
	q := &TrackedQueue[T]{
		name:     name,
		capacity: capacity,
		hooks:    hooks,
		mutate:   mutate,
	}
	q.notifyLocked()
	return q
}

// Name returns the queue name.
func (q *TrackedQueue[T]) Name() string {
	if q == nil {
		return ""
	}
	return q.name
}

// Capacity returns current capacity (-1 for unlimited).
func (q *TrackedQueue[T]) Capacity() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// Len returns the number of items.
func (q *TrackedQueue[T]) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue appends an item. Returns false if capacity exceeded.
func (q *TrackedQueue[T]) Enqueue(item T) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity >= 0 && len(q.items) >= q.capacity {
		if q.hooks.OnReject != nil {
			q.hooks.OnReject(item)
		}
		return false
	}
	q.items = append(q.items, item)
	if q.hooks.OnEnqueue != nil {
		q.hooks.OnEnqueue(item)
	}
	q.notifyLocked()
	return true
}

// PopFront removes and returns the front item.
func (q *TrackedQueue[T]) PopFront() (T, bool) {
	var zero T
	if q == nil {
		return zero, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return zero, false
	}
	return q.removeLocked(0), true
}

// PopWhile removes items from the front for as long as ready reports true
// and returns them in order.
func (q *TrackedQueue[T]) PopWhile(ready func(T) bool) []T {
	if q == nil || ready == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []T
	for len(q.items) > 0 && ready(q.items[0]) {
		out = append(out, q.removeLocked(0))
	}
	return out
}

// RemoveMatch removes the first item matching predicate.
func (q *TrackedQueue[T]) RemoveMatch(match func(T) bool) (T, bool) {
	var zero T
	if q == nil || match == nil {
		return zero, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if match(item) {
			return q.removeLocked(i), true
		}
	}
	return zero, false
}

// Items returns a copy of the queued items.
func (q *TrackedQueue[T]) Items() []T {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

func (q *TrackedQueue[T]) removeLocked(idx int) T {
	item := q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	if q.hooks.OnDequeue != nil {
		q.hooks.OnDequeue(item)
	}
	q.notifyLocked()
	return item
}

func (q *TrackedQueue[T]) notifyLocked() {
	if q.mutate == nil {
		return
	}
	q.mutate(len(q.items), q.capacity)
}
