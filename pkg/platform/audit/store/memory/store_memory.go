package memory

import (
	"context"
	"sync"

	audit "postage/pkg/platform/audit"
)

// DefaultCapacity is the number of events kept when no capacity is given.
const DefaultCapacity = 10_000

// InMemoryStore keeps the most recent events in a fixed-size ring. Once full,
// each append evicts the oldest event.
type InMemoryStore struct {
	mu      sync.RWMutex
	ring    []audit.Event
	start   int
	size    int
	evicted uint64
}

type Option func(*InMemoryStore)

// WithCapacity sets how many events are retained.
func WithCapacity(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.ring = make([]audit.Event, n)
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{}
	for _, opt := range opts {
		opt(s)
	}
	if s.ring == nil {
		s.ring = make([]audit.Event, DefaultCapacity)
	}
	return s
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ring)
	s.start, s.size, s.evicted = 0, 0, 0
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size < len(s.ring) {
		s.ring[(s.start+s.size)%len(s.ring)] = event
		s.size++
		return nil
	}
	s.ring[s.start] = event
	s.start = (s.start + 1) % len(s.ring)
	s.evicted++
	return nil
}

// ListBySubject returns the retained events for subject, oldest first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subject string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []audit.Event{}
	for i := range s.size {
		if e := s.ring[(s.start+i)%len(s.ring)]; e.Subject == subject {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len returns the number of retained events.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Evicted returns how many events were dropped to stay within capacity.
func (s *InMemoryStore) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}
