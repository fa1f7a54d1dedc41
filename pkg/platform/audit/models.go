package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers events that move value or change ownership.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers rejected or privileged actions.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from services after a transaction commits. Keys and
// addresses are carried as base58 strings.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	// Subject is the key the action was performed for.
	Subject string
	Action  string
	// Address is the record or account the action touched, when there is one.
	Address   string
	Amount    uint64
	Reason    string
	RequestID string
}

type AuditEvent string

const (
	EventConfigInitialized AuditEvent = "config_initialized"
	EventConfigUpdated     AuditEvent = "config_updated"
	EventFeesWithdrawn     AuditEvent = "admin_fees_withdrawn"
	EventUserRegistered    AuditEvent = "user_registered"
	EventUserUpdated       AuditEvent = "user_updated"
	EventUserUnregistered  AuditEvent = "user_unregistered"
	EventMessageSent       AuditEvent = "message_sent"
	EventAirdrop           AuditEvent = "airdrop"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventFeesWithdrawn:    CategoryCompliance,
	EventMessageSent:      CategoryCompliance,
	EventUserRegistered:   CategoryCompliance,
	EventUserUnregistered: CategoryCompliance,

	EventConfigInitialized: CategorySecurity,
	EventConfigUpdated:     CategorySecurity,
	EventAirdrop:           CategorySecurity,

	EventUserUpdated: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists or forwards events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can be queried back.
type Lister interface {
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
