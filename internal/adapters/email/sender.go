// Package email delivers coach notifications through an external provider.
package email

import (
	"context"
	"time"
)

// Message is one outbound notification.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string // plain-text alternative
}

// Receipt is the provider's acknowledgement of a Message.
type Receipt struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// NewSender returns a Resend-backed sender, or a NoopSender when no API key is configured.
func NewSender(apiKey, from string) Sender {
	if apiKey == "" {
		return NewNoopSender()
	}
	return NewResendSender(apiKey, from)
}
