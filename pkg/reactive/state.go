// Package reactive provides a small observable value container.
package reactive

import "sync"

// State holds the last value set and notifies watchers on change.
type State[T any] struct {
	mu       sync.RWMutex
	value    T
	version  uint64
	nextID   int
	watchers map[int]func(T)
}

// NewState returns a State seeded with initial.
func NewState[T any](initial T) *State[T] {
	return &State[T]{value: initial, watchers: make(map[int]func(T))}
}

// Get returns the current value without blocking on any refresh.
func (s *State[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Version counts Set calls; zero means the seed value is still current.
func (s *State[T]) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Set stores v and calls every watcher with it. Watchers run after the
// lock is released so they may read the state again.
func (s *State[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	s.version++
	fns := make([]func(T), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Watch registers fn for future changes and returns its cancel func.
func (s *State[T]) Watch(fn func(T)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Reset drops all watchers and restores the zero value.
func (s *State[T]) Reset() {
	var zero T
	s.mu.Lock()
	s.value = zero
	s.watchers = make(map[int]func(T))
	s.mu.Unlock()
}
