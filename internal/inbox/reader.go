// Package inbox reads unseen messages from an IMAP mailbox.
package inbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"inbox-ticket-relay/internal/config"
)

var errNotConnected = errors.New("not connected")

// Reader holds a single IMAP session. It is not safe for concurrent passes;
// the pipeline serializes them.
type Reader struct {
	cfg       config.IMAPConfig
	tlsConfig *tls.Config

	mu     sync.Mutex
	client *client.Client
	log    *logrus.Entry
}

// NewReader creates a reader for the configured mailbox
func NewReader(cfg config.IMAPConfig) *Reader {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Reader{
		cfg:       cfg,
		tlsConfig: &tls.Config{ServerName: cfg.Host},
		log:       logrus.WithField("component", "inbox"),
	}
}

// Connect dials the server, logs in and selects the mailbox read-write
func (r *Reader) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}

	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
	dialer := &net.Dialer{Timeout: r.cfg.Timeout}

	var (
		c   *client.Client
		err error
	)
	if r.cfg.TLS {
		c, err = client.DialWithDialerTLS(dialer, addr, r.tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return &ConnectionError{Op: "dial", Err: fmt.Errorf("connecting to %s: %w", addr, err)}
	}
	c.Timeout = r.cfg.Timeout

	if !r.cfg.TLS {
		if ok, _ := c.SupportStartTLS(); ok {
			if err := c.StartTLS(r.tlsConfig); err != nil {
				_ = c.Logout()
				return &ConnectionError{Op: "starttls", Err: err}
			}
		}
	}

	if err := c.Login(r.cfg.User, r.cfg.Password); err != nil {
		_ = c.Logout()
		return &ConnectionError{Op: "login", Err: err}
	}

	if _, err := c.Select(r.cfg.Mailbox, false); err != nil {
		_ = c.Logout()
		return &ConnectionError{Op: "select", Err: fmt.Errorf("selecting %s: %w", r.cfg.Mailbox, err)}
	}

	r.client = c
	r.log.WithFields(logrus.Fields{"host": r.cfg.Host, "mailbox": r.cfg.Mailbox}).Debug("Connected to IMAP server")
	return nil
}

// ListUnseen returns the UIDs of messages without the \Seen flag
func (r *Reader) ListUnseen(ctx context.Context) ([]uint32, error) {
	c, err := r.session(ctx, "search")
	if err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, &ConnectionError{Op: "search", Err: err}
	}
	if uids == nil {
		uids = []uint32{}
	}
	return uids, nil
}

// FetchAndParse downloads one message without setting \Seen and parses it
func (r *Reader) FetchAndParse(ctx context.Context, uid uint32) (*Message, error) {
	c, err := r.session(ctx, "fetch")
	if err != nil {
		return nil, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid, imap.FetchInternalDate}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for m := range messages {
		if fetched == nil && m.Uid == uid {
			fetched = m
		}
	}
	if err := <-done; err != nil {
		return nil, &ParseError{UID: uid, Err: fmt.Errorf("fetching message: %w", err)}
	}
	if fetched == nil {
		return nil, &ParseError{UID: uid, Err: errors.New("message not returned by server")}
	}

	body := fetched.GetBody(section)
	if body == nil {
		return nil, &ParseError{UID: uid, Err: errors.New("server returned no message body")}
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &ParseError{UID: uid, Err: fmt.Errorf("reading message body: %w", err)}
	}

	receivedAt := fetched.InternalDate
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return ParseMessage(raw, uid, receivedAt)
}

// MarkSeen sets \Seen on exactly the given UIDs
func (r *Reader) MarkSeen(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	c, err := r.session(ctx, "store")
	if err != nil {
		return err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seqset, item, flags, nil); err != nil {
		return &ConnectionError{Op: "store", Err: err}
	}
	return nil
}

// Disconnect logs out. It is safe to call when not connected.
func (r *Reader) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	c := r.client
	r.client = nil

	if err := c.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		return &ConnectionError{Op: "logout", Err: err}
	}
	return nil
}

func (r *Reader) session(ctx context.Context, op string) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil, &ConnectionError{Op: op, Err: errNotConnected}
	}
	return r.client, nil
}
