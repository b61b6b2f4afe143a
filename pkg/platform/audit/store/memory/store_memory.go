package memory

import (
	"context"
	"sync"

	audit "assessgate/pkg/platform/audit"
)

const defaultCapacity = 10000

// InMemoryStore keeps the most recent audit events in a fixed-size ring.
// When full, the oldest events are overwritten.
type InMemoryStore struct {
	mu       sync.RWMutex
	events   []audit.Event
	head     int // next write position
	count    int
	capacity int
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &InMemoryStore{
		events:   make([]audit.Event, capacity),
		capacity: capacity,
	}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.head] = event
	s.head = (s.head + 1) % s.capacity
	if s.count < s.capacity {
		s.count++
	}
	return nil
}

// ListRecent returns up to limit events, most recent first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > s.count {
		limit = s.count
	}
	result := make([]audit.Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.head - i + s.capacity) % s.capacity
		result = append(result, s.events[idx])
	}
	return result, nil
}

// Len returns the number of retained events.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
