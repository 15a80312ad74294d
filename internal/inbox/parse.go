package inbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
)

// ParseMessage decodes a raw RFC 5322 message. Missing fields are replaced
// with their defaults; only unreadable input is an error.
func ParseMessage(raw []byte, uid uint32, receivedAt time.Time) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{UID: uid, Err: errors.New("empty message")}
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &ParseError{UID: uid, Err: err}
	}
	defer mr.Close()

	msg := &Message{
		UID:        uid,
		MessageID:  messageID(mr.Header),
		Sender:     sender(mr.Header),
		Subject:    subject(mr.Header),
		ReceivedAt: receivedAt,
	}

	var text, htmlBody string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, &ParseError{UID: uid, Err: fmt.Errorf("reading part: %w", err)}
		}
		if p == nil {
			return nil, &ParseError{UID: uid, Err: errors.New("unreadable part")}
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct != "" && ct != "text/plain" && ct != "text/html" {
			continue
		}

		content, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, &ParseError{UID: uid, Err: fmt.Errorf("reading %s body: %w", ct, err)}
		}

		switch {
		case ct == "text/html":
			if htmlBody == "" {
				htmlBody = string(content)
			}
		default:
			if text == "" {
				text = string(content)
			}
		}
	}

	msg.Body = strings.TrimSpace(text)
	if msg.Body == "" && htmlBody != "" {
		msg.Body = htmlToText(htmlBody)
	}
	if msg.Body == "" {
		msg.Body = DefaultBody
	}

	return msg, nil
}

func messageID(h mail.Header) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return id
	}
	return strings.Trim(strings.TrimSpace(h.Get("Message-Id")), "<>")
}

func subject(h mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		s = h.Get("Subject")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSubject
	}
	return s
}

func sender(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err != nil || len(addrs) == 0 {
		if raw := strings.TrimSpace(h.Get("From")); raw != "" {
			return raw
		}
		return DefaultSender
	}

	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}

var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "ul": true, "ol": true, "blockquote": true,
}

// htmlToText renders an HTML body as plain text, one block per line
func htmlToText(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return normalizeLines(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "head" {
				skip++
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style" || tag == "head") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

func normalizeLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
