package email

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NoopSender logs notifications instead of delivering them.
type NoopSender struct{}

// NewNoopSender creates a new NoopSender.
func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

// Send logs the message.
// POST: nothing leaves the process; a synthetic receipt is returned
func (s *NoopSender) Send(_ context.Context, msg Message) (Receipt, error) {
	slog.Info("noop_email_send", "to", msg.To, "subject", msg.Subject)
	return Receipt{MessageID: "noop-" + uuid.NewString(), SentAt: time.Now()}, nil
}
