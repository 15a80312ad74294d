package inbox

import (
	"fmt"
	"time"
)

// Placeholders for headers or bodies a message does not carry
const (
	DefaultSubject = "No Subject"
	DefaultBody    = "No content"
	DefaultSender  = "Unknown sender"
)

// Message is an inbound email reduced to what a ticket needs
type Message struct {
	UID        uint32
	MessageID  string
	Sender     string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// RecordID returns the Message-ID, or a stable fallback derived from the
// receipt time and UID when the header is missing.
func (m *Message) RecordID() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return fmt.Sprintf("email-%d-%d", m.ReceivedAt.UnixMilli(), m.UID)
}
