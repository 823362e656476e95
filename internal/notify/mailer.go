// Package notify turns keyword matches into rendered notification emails and
// records every attempt in the notification log.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Email is one rendered message ready for delivery.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers rendered emails. Delivery itself is an external
// collaborator; implementations adapt whatever transport the deployment
// uses.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer is a Mailer that only logs. It stands in when no transport is
// configured, keeping the rest of the run observable.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger.Named("mailer")}
}

// Send logs the email instead of delivering it.
func (m *LogMailer) Send(_ context.Context, email Email) error {
	m.logger.Info("email suppressed, no transport configured",
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
		zap.Int("body_bytes", len(email.HTML)))
	return nil
}
