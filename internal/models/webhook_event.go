package models

import (
	"time"

	"gorm.io/datatypes"
)

// Webhook event processing states.
const (
	WebhookEventStatusReceived = "received"
	WebhookEventStatusApplied  = "applied"
	WebhookEventStatusSkipped  = "skipped"
)

// WebhookEvent is the idempotency record for an inbound billing event. The
// external event ID is the primary key; a conflict on insert is definitional
// proof the event was already processed.
type WebhookEvent struct {
	ID string `gorm:"type:text;primaryKey"` // External system's event identifier.

	Type    string `gorm:"type:text;not null;index"` // Event type, e.g. customer.subscription.updated.
	Status  string `gorm:"type:text;not null"`       // Processing state.
	TraceID string `gorm:"type:text"`                // Request trace identifier, if any.

	Payload datatypes.JSON `gorm:"type:jsonb"` // Raw event payload.

	ReceivedAt time.Time `gorm:"not null"` // Receipt timestamp.
}
