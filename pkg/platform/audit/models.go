package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so stores
// and sinks can route them differently.
type EventCategory string

const (
	// CategorySecurity covers events relevant to abuse monitoring:
	// code issuance, failed verifications, rejected owner keys.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that is useful for
	// debugging and can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AuditEvent string

const (
	// Report access events
	EventAccessCodeIssued         AuditEvent = "access_code_issued"
	EventAccessCodeDeliveryFailed AuditEvent = "access_code_delivery_failed"
	EventAccessGranted            AuditEvent = "access_granted"
	EventAccessDenied             AuditEvent = "access_denied"

	// Share events
	EventShareCreated       AuditEvent = "share_created"
	EventShareUpdated       AuditEvent = "share_updated"
	EventShareOwnerRejected AuditEvent = "share_owner_rejected"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAccessCodeIssued:         CategorySecurity,
	EventAccessCodeDeliveryFailed: CategorySecurity,
	EventAccessGranted:            CategorySecurity,
	EventAccessDenied:             CategorySecurity,
	EventShareOwnerRejected:       CategorySecurity,

	EventShareCreated: CategoryOperations,
	EventShareUpdated: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions. It is
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Timestamp time.Time
	Action    AuditEvent
	// Subject is the masked recipient or share code the event is about.
	Subject string
	// Resource is the diagnosis identifier, when one applies.
	Resource  string
	Reason    string
	IP        string
	RequestID string
	Severity  Severity
}

// Category returns the category of the event's action.
func (e Event) Category() EventCategory { return e.Action.Category() }

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Emitter is the narrow interface services depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}
