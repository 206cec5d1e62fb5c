package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/meter/pkg/observability"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeAccountCreated      EventType = "account.created"
	EventTypeSubscriptionUpdated EventType = "subscription.updated"
	EventTypeSubscriptionDropped EventType = "subscription.dropped"
	EventTypeUsageSweep          EventType = "usage.sweep"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
)

// Event is a single audit entry. Credentials never appear in it; use
// the display prefix when one needs to be identified.
type Event struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	UserID    string `json:"user_id,omitempty"`
	Source    string `json:"source,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Changes  *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// NewEvent builds an event stamped with the current time and the request
// id carried by ctx, if any
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}
