package notify

import (
	"context"
	"fmt"

	"inbox-ticket-relay/internal/config"
)

// Transport hands a fully composed RFC 5322 message to a mail system
type Transport interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
	Name() string
}

// NewTransport builds the transport selected by mail.transport
func NewTransport(ctx context.Context, cfg config.MailConfig) (Transport, error) {
	switch cfg.Transport {
	case config.TransportSMTP:
		return NewSMTPTransport(cfg.SMTP), nil
	case config.TransportGmail:
		return NewGmailTransport(ctx, cfg.Gmail)
	default:
		return nil, fmt.Errorf("unsupported mail transport: %s", cfg.Transport)
	}
}
