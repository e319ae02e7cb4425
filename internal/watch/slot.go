// Package watch provides the "watchable slot" async primitive used
// throughout internal/cache to wake waiters without a dedicated reactive
// signal runtime. A Slot holds a value plus a notify channel that is
// swapped out and closed on every update (and once more on Close), the
// standard Go idiom for level-triggered wakeups — the same shape as the
// ring buffer's atomic write/read cursors in the teacher pack, generalized
// from "new data is available" to "this value changed".
package watch

import "sync"

// Slot holds a value of type T and lets goroutines wait for it to change
// or for the slot to close.
type Slot[T any] struct {
	mu     sync.Mutex
	value  T
	closed bool
	ch     chan struct{}
}

// New returns a Slot holding initial.
func New[T any](initial T) *Slot[T] {
	return &Slot[T]{value: initial, ch: make(chan struct{})}
}

// Peek returns the current value and whether the slot is still open.
func (s *Slot[T]) Peek() (value T, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, !s.closed
}

// Set stores v and wakes every current waiter.
func (s *Slot[T]) Set(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.value = v
	old := s.ch
	s.ch = make(chan struct{})
	s.mu.Unlock()
	close(old)
}

// Close marks the slot closed and wakes every current waiter permanently;
// further Set calls are no-ops.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	old := s.ch
	s.mu.Unlock()
	close(old)
}

// Watch returns the current value, whether the slot is open, and a
// channel that closes the next time either changes. Callers loop:
// re-check the condition, and if not satisfied and still open, select on
// the returned channel (and their own cancellation).
func (s *Slot[T]) Watch() (value T, open bool, changed <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, !s.closed, s.ch
}
