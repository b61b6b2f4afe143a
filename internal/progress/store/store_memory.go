package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assessgate/internal/progress/models"
	"assessgate/pkg/platform/sentinel"
)

type entry struct {
	mu      sync.Mutex
	record  *models.ShareRecord
	timer   *time.Timer
	removed bool
}

// InMemoryStore keeps share records in process memory. Each record owns a
// deletion timer armed at Save; the record is gone when its lifetime ends
// whether or not anyone reads it.
//
// Lock order is entry -> map, matching the access code store.
type InMemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	closed   bool
	clock    func() time.Time
	onExpire func(code string)
}

type Option func(*InMemoryStore)

func WithClock(clock func() time.Time) Option {
	return func(s *InMemoryStore) { s.clock = clock }
}

// WithExpiryObserver is called after a timer removes a record.
func WithExpiryObserver(fn func(code string)) Option {
	return func(s *InMemoryStore) { s.onExpire = fn }
}

func New(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		entries: make(map[string]*entry),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Save(_ context.Context, record *models.ShareRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("share store closed: %w", sentinel.ErrUnavailable)
	}
	if _, ok := s.entries[record.Code]; ok {
		return fmt.Errorf("share code %s: %w", record.Code, sentinel.ErrConflict)
	}

	e := &entry{record: record.Clone()}
	code := record.Code
	e.timer = time.AfterFunc(record.ExpiresAt.Sub(s.clock()), func() { s.expire(code, e) })
	s.entries[code] = e
	return nil
}

// Find returns a copy of the record.
func (s *InMemoryStore) Find(_ context.Context, code string) (*models.ShareRecord, error) {
	e, err := s.lockEntry(code)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.record.Clone(), nil
}

// Execute applies fn to a working copy under the record's lock and commits it
// only when fn succeeds. The committed state is returned as a copy.
func (s *InMemoryStore) Execute(_ context.Context, code string, fn func(record *models.ShareRecord) error) (*models.ShareRecord, error) {
	e, err := s.lockEntry(code)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	working := e.record.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	e.record = working
	return working.Clone(), nil
}

// lockEntry returns the live entry for code with its mutex held.
func (s *InMemoryStore) lockEntry(code string) (*entry, error) {
	for {
		s.mu.RLock()
		e, ok := s.entries[code]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("share code %s: %w", code, sentinel.ErrNotFound)
		}
		e.mu.Lock()
		if !e.removed {
			return e, nil
		}
		e.mu.Unlock()
	}
}

func (s *InMemoryStore) expire(code string, e *entry) {
	e.mu.Lock()
	s.mu.Lock()
	removed := false
	if s.entries[code] == e {
		delete(s.entries, code)
		e.removed = true
		removed = true
	}
	s.mu.Unlock()
	e.mu.Unlock()

	if removed && s.onExpire != nil {
		s.onExpire(code)
	}
}

// Close stops every pending deletion timer and drops all records.
func (s *InMemoryStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for code, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, code)
	}
}

func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
