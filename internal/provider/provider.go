// Package provider adapts rendered messages to the external messaging
// services and normalizes their responses into a success/failure verdict
// plus an opaque provider message identifier.
package provider

import (
	"context"
	"encoding/json"
	"errors"
)

// Channel constants, mirrored from the delivery record schema.
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Business-level dispatch failures. Each precondition is a distinct error
// so the API layer can surface a short reason without leaking provider
// payloads. None of these are transport errors.
var (
	ErrChannelDisabled       = errors.New("channel is disabled")
	ErrProviderNotConfigured = errors.New("provider is not configured")
	ErrTemplateMismatch      = errors.New("template type does not match channel")
	ErrRecipientMissing      = errors.New("contact has no recipient for this channel")
	ErrProviderRejected      = errors.New("provider rejected the message")
)

// Message is a fully rendered message ready to hand to a provider.
type Message struct {
	Channel   string
	Recipient string // raw phone or email; SMS adapters normalize before sending
	Sender    string // sender identity (SMS sender id or from address)
	Subject   string // email only
	Body      string
}

// Result is the normalized provider response. Raw is retained on the
// delivery record for diagnosis and never surfaced verbatim to callers.
// Recipient is the canonical form actually sent to.
type Result struct {
	MessageID string
	Recipient string
	Raw       json.RawMessage
}

// Sender is the adapter contract shared by both channels. Send performs a
// single bounded round trip; success requires both a non-error transport
// response and a present provider message identifier. A non-zero Result may
// accompany an error when the provider responded without a success marker.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
	Channel() string
}
