package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel constants
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// DeliveryRecord status constants
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDelivered = "delivered"
	StatusRetrying  = "retrying"
)

// Notification type constants
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// Contact is a row from the contact-management subsystem. Read-only here;
// the pipeline never creates or mutates contacts.
type Contact struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone"`
	Email     *string   `json:"email,omitempty"`
	Birthday  time.Time `json:"birthday"`
	IsActive  bool      `json:"is_active"`
}

// MessageTemplate is a stored greeting template. Read-only here.
type MessageTemplate struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"` // sms or email
	Subject  *string   `json:"subject,omitempty"`
	Content  string    `json:"content"`
	IsActive bool      `json:"is_active"`
}

// DeliveryRecord is the durable record of one send attempt. Created exactly
// once per dispatch; only the correlator mutates it afterwards.
type DeliveryRecord struct {
	ID                uuid.UUID       `json:"id"`
	ContactID         uuid.UUID       `json:"contact_id"`
	TemplateID        uuid.UUID       `json:"template_id"`
	Channel           string          `json:"channel"`
	Recipient         string          `json:"recipient"`
	Content           string          `json:"content"`
	Status            string          `json:"status"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty"`
	ProviderResponse  json.RawMessage `json:"provider_response,omitempty"`
	SentAt            *time.Time      `json:"sent_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Notification is the user-facing summary of a dispatch outcome.
// UserID is nil for unattributed system dispatches.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Type      string          `json:"type"`
	IsRead    bool            `json:"is_read"`
	Link      *string         `json:"link,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// statusTransitions encodes the forward-only delivery state machine:
// pending -> sent|failed at dispatch time, sent -> delivered (or a
// provider-reported failure after the fact) via the correlator.
// failed and delivered are terminal.
var statusTransitions = map[string]map[string]bool{
	StatusPending:  {StatusSent: true, StatusFailed: true, StatusRetrying: true},
	StatusRetrying: {StatusSent: true, StatusFailed: true},
	StatusSent:     {StatusDelivered: true, StatusFailed: true},
}

// CanTransition reports whether a delivery record may move from one status
// to another. Re-applying the current status is not a transition; callers
// treat it as a no-op.
func CanTransition(from, to string) bool {
	return statusTransitions[from][to]
}
