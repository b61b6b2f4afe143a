package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assessgate/internal/access/models"
	"assessgate/internal/platform/sweeper"
	"assessgate/pkg/platform/sentinel"
)

// Error Contract:
// - Execute returns ErrNotFound when no live record exists for the key
// - Put never fails for the in-memory store
//
// Locking: each record has its own mutex; the map has a separate RWMutex.
// When both are needed the entry lock is taken first, then the map lock.
// Sweeps snapshot the map before visiting entries so they never hold the map
// lock while waiting on a record.

// Disposition tells Execute what to do with the record after the callback.
type Disposition int

const (
	Keep Disposition = iota
	Delete
)

type entry struct {
	mu      sync.Mutex
	record  *models.AccessCodeRecord
	removed bool
}

// InMemoryStore holds access code records keyed by subject.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[models.SubjectKey]*entry

	sweepInterval time.Duration
	clock         func() time.Time
	onSweep       func(deleted int)
	sweeper       *sweeper.Sweeper
}

type Option func(*InMemoryStore)

// WithSweepInterval starts a background sweep of expired records. The sweep
// goroutine lives until Close.
func WithSweepInterval(d time.Duration) Option {
	return func(s *InMemoryStore) { s.sweepInterval = d }
}

// WithClock sets the time source used by the background sweep.
func WithClock(clock func() time.Time) Option {
	return func(s *InMemoryStore) { s.clock = clock }
}

// WithSweepObserver is called after every background sweep.
func WithSweepObserver(fn func(deleted int)) Option {
	return func(s *InMemoryStore) { s.onSweep = fn }
}

func New(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		entries: make(map[models.SubjectKey]*entry),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sweeper = sweeper.Start(s.sweepInterval, s.clock, func(now time.Time) {
		n, _ := s.DeleteExpired(context.Background(), now)
		if s.onSweep != nil {
			s.onSweep(n)
		}
	})
	return s
}

// Close stops the background sweep. Records remain readable.
func (s *InMemoryStore) Close() {
	s.sweeper.Close()
}

// Put stores record, replacing any previous record for the same subject.
func (s *InMemoryStore) Put(_ context.Context, record *models.AccessCodeRecord) error {
	fresh := &entry{record: record}

	s.mu.Lock()
	previous := s.entries[record.Subject]
	s.entries[record.Subject] = fresh
	s.mu.Unlock()

	if previous != nil {
		previous.mu.Lock()
		previous.removed = true
		previous.mu.Unlock()
	}
	return nil
}

// Execute runs fn with exclusive access to the live record for key and applies
// the returned disposition atomically with it.
func (s *InMemoryStore) Execute(_ context.Context, key models.SubjectKey, fn func(record *models.AccessCodeRecord) Disposition) error {
	for {
		s.mu.RLock()
		e, ok := s.entries[key]
		s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("access code not found: %w", sentinel.ErrNotFound)
		}

		e.mu.Lock()
		if e.removed {
			// Replaced or deleted between lookup and lock; look again.
			e.mu.Unlock()
			continue
		}
		if fn(e.record) == Delete {
			s.removeLocked(key, e)
		}
		e.mu.Unlock()
		return nil
	}
}

// removeLocked drops e from the map if it is still the live entry. Caller holds e.mu.
func (s *InMemoryStore) removeLocked(key models.SubjectKey, e *entry) {
	e.removed = true
	s.mu.Lock()
	if s.entries[key] == e {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

// DeleteExpired removes every record past its expiry as of now.
// The time parameter is injected for testability (no hidden time.Now() calls).
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	snapshot := make(map[models.SubjectKey]*entry, len(s.entries))
	for k, e := range s.entries {
		snapshot[k] = e
	}
	s.mu.RUnlock()

	deleted := 0
	for key, e := range snapshot {
		e.mu.Lock()
		if !e.removed && e.record.IsExpired(now) {
			s.removeLocked(key, e)
			deleted++
		}
		e.mu.Unlock()
	}
	return deleted, nil
}

// Len returns the number of stored records, expired or not.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
