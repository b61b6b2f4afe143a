// Package publisher hands audit events to a background worker over a bounded
// channel. Emit never blocks request handling: when the buffer is full the
// event is dropped and counted.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	audit "assessgate/pkg/platform/audit"
	"assessgate/pkg/requestcontext"
)

const defaultBuffer = 1024

type Publisher struct {
	events  chan audit.Event
	logger  *slog.Logger
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type Option func(*Publisher)

// WithBuffer sets the channel capacity.
func WithBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.events = make(chan audit.Event, n)
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		events: make(chan audit.Event, defaultBuffer),
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit stamps the event with an ID, timestamp and request ID when missing and
// enqueues it.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityInfo
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.events <- event:
	default:
		p.dropped.Add(1)
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit buffer full, dropping event",
				"action", event.Action,
				"request_id", event.RequestID,
			)
		}
	}
}

// Events is the channel a worker drains. It is closed by Close.
func (p *Publisher) Events() <-chan audit.Event {
	return p.events
}

// Dropped returns the number of events discarded because the buffer was full
// or the publisher was closed.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting events and closes the channel so the worker can drain it.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()
	})
}
