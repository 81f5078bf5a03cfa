// Package pubsub provides a small synchronous publish/subscribe primitive used
// to fan backend notifications out to provider listeners.
package pubsub

import (
	"sync"

	"github.com/google/uuid"
)

type subscriber[T any] struct {
	id uuid.UUID
	fn func(T)
}

// Subject delivers published values to every current subscriber.
//
// Publish calls subscribers on the publishing goroutine, in registration order,
// using a snapshot of the subscriber list taken under the lock. A Subscribe that
// returns before Publish starts is guaranteed to observe that value.
type Subject[T any] struct {
	mu   sync.RWMutex
	subs []subscriber[T]
}

// NewSubject creates an empty Subject
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

// Subscribe registers fn and returns the handle used to remove it
func (s *Subject[T]) Subscribe(fn func(T)) uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()
	return id
}

// Unsubscribe removes the subscriber registered under id.
// It reports whether a subscriber was removed.
func (s *Subject[T]) Unsubscribe(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers v to a snapshot of the current subscribers
func (s *Subject[T]) Publish(v T) {
	s.mu.RLock()
	snapshot := make([]subscriber[T], len(s.subs))
	copy(snapshot, s.subs)
	s.mu.RUnlock()

	for _, sub := range snapshot {
		sub.fn(v)
	}
}

// Len returns the number of current subscribers
func (s *Subject[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
