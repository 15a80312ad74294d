package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"inbox-ticket-relay/internal/config"
)

const gmailSendAttempts = 3

// GmailTransport sends mail through the Gmail API using an OAuth2 refresh token
type GmailTransport struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailTransport creates a Gmail API transport
func NewGmailTransport(ctx context.Context, cfg config.GmailConfig) (*GmailTransport, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	userEmail := cfg.UserEmail
	if userEmail == "" {
		userEmail = "me"
	}

	return &GmailTransport{service: service, userEmail: userEmail}, nil
}

// Name returns the transport name
func (t *GmailTransport) Name() string {
	return config.TransportGmail
}

// Send uploads msg as a raw message. Recipients are taken from its headers.
func (t *GmailTransport) Send(ctx context.Context, _ string, _ []string, msg []byte) error {
	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(msg),
	}

	var lastErr error
	for attempt := 1; attempt <= gmailSendAttempts; attempt++ {
		_, err := t.service.Users.Messages.Send(t.userEmail, message).Context(ctx).Do()
		if err == nil {
			return nil
		}

		lastErr = err
		logrus.WithField("component", "notify").Warnf("Gmail send failed (attempt %d/%d): %v", attempt, gmailSendAttempts, err)

		if !isRateLimited(err) {
			break
		}

		wait := time.Duration(attempt*attempt) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("gmail send failed: %w", lastErr)
}

func isRateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate")
}
