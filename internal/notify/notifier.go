// Package notify emails operators when tickets are created.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"inbox-ticket-relay/internal/model"
	"inbox-ticket-relay/internal/ticket"
)

// ErrNoRecipients is returned when no notification address is configured
var ErrNoRecipients = errors.New("no notification recipients configured")

// ConfigSource supplies the runtime notification address
type ConfigSource interface {
	GetConfig(ctx context.Context) (*model.SystemConfig, error)
}

// Notifier renders and sends notification emails
type Notifier struct {
	transport  Transport
	from       string
	recipients []string
	configs    ConfigSource
	now        func() time.Time
	log        *logrus.Entry
}

// NewNotifier creates a notifier. recipients is the fixed list from process
// configuration; configs may be nil.
func NewNotifier(transport Transport, from string, recipients []string, configs ConfigSource) *Notifier {
	return &Notifier{
		transport:  transport,
		from:       from,
		recipients: recipients,
		configs:    configs,
		now:        time.Now,
		log:        logrus.WithField("component", "notify"),
	}
}

// NotifyTicketCreated tells the notification recipients about a new ticket
func (n *Notifier) NotifyTicketCreated(ctx context.Context, originalSubject, sender string, t *ticket.Ticket) error {
	to := n.resolveRecipients(ctx)
	if len(to) == 0 {
		return &DeliveryError{Err: ErrNoRecipients}
	}

	data := ticketCreatedData{
		TicketKey:       t.Key,
		TicketURL:       t.URL,
		OriginalSubject: originalSubject,
		From:            sender,
		Created:         n.now().Format(time.RFC1123),
		Footer:          footer,
	}

	subject, err := render(subjectTmpl.Execute, data)
	if err != nil {
		return err
	}
	text, err := render(ticketCreatedText.Execute, data)
	if err != nil {
		return err
	}
	html, err := render(ticketCreatedHTML.Execute, data)
	if err != nil {
		return err
	}

	if err := n.send(ctx, to, subject, text, html); err != nil {
		return err
	}

	n.log.WithFields(logrus.Fields{"ticket_key": t.Key, "recipients": to}).Info("Sent ticket notification")
	return nil
}

// SendTest sends the fixed test message to address
func (n *Notifier) SendTest(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return &DeliveryError{Err: ErrNoRecipients}
	}

	data := testData{SentAt: n.now().Format(time.RFC1123)}
	text, err := render(testText.Execute, data)
	if err != nil {
		return err
	}
	html, err := render(testHTML.Execute, data)
	if err != nil {
		return err
	}

	if err := n.send(ctx, []string{address}, testSubject, text, html); err != nil {
		return err
	}

	n.log.WithField("recipient", address).Info("Sent test email")
	return nil
}

// TransportName returns the name of the configured transport
func (n *Notifier) TransportName() string {
	return n.transport.Name()
}

func (n *Notifier) send(ctx context.Context, to []string, subject, text, html string) error {
	msg, err := composeAlternative(n.from, to, subject, text, html, n.now())
	if err != nil {
		return fmt.Errorf("composing notification: %w", err)
	}
	if err := n.transport.Send(ctx, n.from, to, msg); err != nil {
		return &DeliveryError{Recipients: to, Err: err}
	}
	return nil
}

// resolveRecipients merges the fixed list with the runtime address, case-insensitively de-duplicated
func (n *Notifier) resolveRecipients(ctx context.Context) []string {
	candidates := append([]string(nil), n.recipients...)
	if n.configs != nil {
		sc, err := n.configs.GetConfig(ctx)
		if err != nil {
			n.log.WithError(err).Warn("Failed to load notification address from system config")
		} else if sc.NotificationEmail != "" {
			candidates = append(candidates, sc.NotificationEmail)
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, addr := range candidates {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if addr == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func render(exec func(w io.Writer, data interface{}) error, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := exec(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return buf.String(), nil
}
