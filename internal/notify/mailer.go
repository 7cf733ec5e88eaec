package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

var ErrNoRecipient = errors.New("recipient is required")

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages; SESMailer in production, LogMailer when notifications are off.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer only logs outgoing messages.
type LogMailer struct {
	logger *zerolog.Logger
}

func NewLogMailer(logger *zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	m.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("Email delivery disabled, message logged")
	return nil
}
