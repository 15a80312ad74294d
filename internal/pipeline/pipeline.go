// Package pipeline turns unseen inbox messages into tickets exactly once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"inbox-ticket-relay/internal/inbox"
	"inbox-ticket-relay/internal/metrics"
	"inbox-ticket-relay/internal/model"
	"inbox-ticket-relay/internal/store"
	"inbox-ticket-relay/internal/ticket"
)

// ErrPassInProgress is returned by Run when another pass holds the pipeline
var ErrPassInProgress = errors.New("a processing pass is already running")

const (
	testSender            = "test@example.com"
	defaultMessageTimeout = 2 * time.Minute
)

// Mailbox is the inbox session a pass works against
type Mailbox interface {
	Connect(ctx context.Context) error
	ListUnseen(ctx context.Context) ([]uint32, error)
	FetchAndParse(ctx context.Context, uid uint32) (*inbox.Message, error)
	MarkSeen(ctx context.Context, uids []uint32) error
	Disconnect() error
}

// TicketCreator creates issues in the tracker
type TicketCreator interface {
	CreateTicket(ctx context.Context, subject, body, sender string) (*ticket.Ticket, error)
}

// Notifier announces created tickets
type Notifier interface {
	NotifyTicketCreated(ctx context.Context, subject, sender string, t *ticket.Ticket) error
}

// Outcome is what Handle did with one message
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
)

// PassResult summarizes one Run
type PassResult struct {
	Found         int                `json:"found"`
	Parsed        int                `json:"parsed"`
	ParseFailures int                `json:"parse_failures"`
	Succeeded     int                `json:"succeeded"`
	Failed        int                `json:"failed"`
	Duplicates    int                `json:"duplicates"`
	HandleErrors  int                `json:"handle_errors"`
	MarkedSeen    int                `json:"marked_seen"`
	Stats         *model.SystemStats `json:"stats,omitempty"`
	Error         string             `json:"error,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	Duration      time.Duration      `json:"duration"`
}

// Pipeline runs inbox passes
type Pipeline struct {
	mailbox  Mailbox
	store    store.Store
	tickets  TicketCreator
	notifier Notifier
	metrics  *metrics.Metrics

	messageTimeout time.Duration
	now            func() time.Time
	newID          func() string

	mu      sync.Mutex
	running atomic.Bool

	lastMu sync.RWMutex
	last   *PassResult

	// tickets created whose success could not be recorded, by record id
	unrecordedMu sync.Mutex
	unrecorded   map[string]*ticket.Ticket

	log *logrus.Entry
}

// New creates a pipeline. messageTimeout bounds the handling of a single
// message; zero uses a default.
func New(mailbox Mailbox, st store.Store, tickets TicketCreator, notifier Notifier, m *metrics.Metrics, messageTimeout time.Duration) *Pipeline {
	if messageTimeout <= 0 {
		messageTimeout = defaultMessageTimeout
	}
	return &Pipeline{
		mailbox:        mailbox,
		store:          st,
		tickets:        tickets,
		notifier:       notifier,
		metrics:        m,
		messageTimeout: messageTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
		unrecorded:     make(map[string]*ticket.Ticket),
		log:            logrus.WithField("component", "pipeline"),
	}
}

// Run performs one pass over the unseen messages. Cancelling ctx stops the
// pass between messages; the message in hand is finished under its own timeout.
func (p *Pipeline) Run(ctx context.Context) (*PassResult, error) {
	if !p.mu.TryLock() {
		return nil, ErrPassInProgress
	}
	defer p.mu.Unlock()

	p.running.Store(true)
	defer p.running.Store(false)

	result := &PassResult{StartedAt: p.now()}
	p.log.Info("Starting inbox pass")

	work := context.WithoutCancel(ctx)
	if err := p.drain(ctx, work, result); err != nil {
		result.Error = err.Error()
		result.Duration = p.now().Sub(result.StartedAt)
		p.setLast(result)
		p.metrics.Passes.WithLabelValues("error").Inc()
		p.log.WithError(err).Error("Inbox pass aborted")
		return nil, err
	}

	if stats, err := p.RecomputeStats(work); err != nil {
		p.log.WithError(err).Error("Failed to recompute stats")
	} else {
		result.Stats = stats
	}

	finished := p.now()
	if _, err := p.store.UpdateConfig(work, model.ConfigUpdate{LastRunAt: &finished}); err != nil {
		p.log.WithError(err).Error("Failed to record last run time")
	}

	result.Duration = finished.Sub(result.StartedAt)
	p.metrics.Passes.WithLabelValues("ok").Inc()
	p.metrics.PassDuration.Observe(result.Duration.Seconds())
	p.metrics.LastPassTimestamp.Set(float64(finished.Unix()))
	p.setLast(result)

	p.log.WithFields(logrus.Fields{
		"found":       result.Found,
		"succeeded":   result.Succeeded,
		"failed":      result.Failed,
		"duplicates":  result.Duplicates,
		"parse_fails": result.ParseFailures,
		"marked_seen": result.MarkedSeen,
		"duration":    result.Duration,
	}).Info("Inbox pass completed")
	return result, nil
}

// drain holds the mailbox session: list, fetch, handle, then flag what was
// handled. stop is only consulted between messages; all I/O runs on work.
func (p *Pipeline) drain(stop, work context.Context, result *PassResult) error {
	if err := p.mailbox.Connect(work); err != nil {
		return fmt.Errorf("connecting to mailbox: %w", err)
	}
	defer func() {
		if err := p.mailbox.Disconnect(); err != nil {
			p.log.WithError(err).Warn("Failed to disconnect from mailbox")
		}
	}()

	uids, err := p.mailbox.ListUnseen(work)
	if err != nil {
		return fmt.Errorf("listing unseen messages: %w", err)
	}
	result.Found = len(uids)
	p.metrics.MessagesFound.Add(float64(len(uids)))
	if len(uids) == 0 {
		p.log.Info("No new emails to process")
		return nil
	}

	seen := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if stop.Err() != nil {
			p.log.WithError(stop.Err()).Warn("Pass cancelled, stopping early")
			break
		}

		msg, err := p.mailbox.FetchAndParse(work, uid)
		if err != nil {
			result.ParseFailures++
			p.metrics.ParseFailures.Inc()
			p.log.WithError(err).WithField("uid", uid).Warn("Failed to fetch or parse message, leaving it unseen")
			continue
		}
		result.Parsed++

		outcome, err := p.handleWithTimeout(work, msg)
		if err != nil {
			result.HandleErrors++
			p.log.WithError(err).WithField("uid", uid).Error("Failed to handle message, leaving it unseen")
			continue
		}

		switch outcome {
		case OutcomeSucceeded:
			result.Succeeded++
		case OutcomeFailed:
			result.Failed++
		case OutcomeDuplicate:
			result.Duplicates++
		}
		seen = append(seen, uid)
	}

	if len(seen) > 0 {
		if err := p.mailbox.MarkSeen(work, seen); err != nil {
			p.log.WithError(err).WithField("uids", seen).Error("Failed to mark messages as seen")
		} else {
			result.MarkedSeen = len(seen)
		}
	}
	return nil
}

func (p *Pipeline) handleWithTimeout(ctx context.Context, msg *inbox.Message) (Outcome, error) {
	hctx, cancel := context.WithTimeout(ctx, p.messageTimeout)
	defer cancel()
	return p.Handle(hctx, msg)
}

// Handle processes one message. A nil error means the message has a
// terminal record (or already had one) and may be flagged as seen.
//
// A record still pending from an earlier pass is resumed: if that pass
// created the ticket but could not record it, the known ticket is recorded;
// otherwise ticket creation is attempted again.
func (p *Pipeline) Handle(ctx context.Context, msg *inbox.Message) (Outcome, error) {
	id := msg.RecordID()
	log := p.log.WithFields(logrus.Fields{"message_id": id, "uid": msg.UID})

	record, err := p.store.GetRecord(ctx, id)
	switch {
	case err == nil && record.Status.IsTerminal():
		log.WithField("status", record.Status).Info("Email already processed, skipping")
		p.metrics.Duplicates.Inc()
		return OutcomeDuplicate, nil
	case err == nil:
		log.Info("Resuming email left pending by an earlier pass")
	case errors.Is(err, store.ErrNotFound):
		record = &model.ProcessingRecord{
			MessageID:   id,
			Sender:      valueOr(msg.Sender, inbox.DefaultSender),
			Subject:     valueOr(msg.Subject, inbox.DefaultSubject),
			Body:        valueOr(msg.Body, inbox.DefaultBody),
			Status:      model.StatusPending,
			ProcessedAt: p.now(),
		}
		if err := p.store.CreateRecord(ctx, record); err != nil {
			if errors.Is(err, store.ErrDuplicateRecord) {
				log.Info("Email claimed by a concurrent handler, skipping")
				p.metrics.Duplicates.Inc()
				return OutcomeDuplicate, nil
			}
			return "", fmt.Errorf("creating record %s: %w", id, err)
		}
	default:
		return "", fmt.Errorf("looking up record %s: %w", id, err)
	}

	// the terminal write must land even when the ticket call used up the deadline
	finalize := context.WithoutCancel(ctx)

	t, known := p.unrecordedTicket(id)
	if !known {
		log.WithField("subject", record.Subject).Info("Processing email")

		t, err = p.tickets.CreateTicket(ctx, record.Subject, record.Body, record.Sender)
		if err != nil {
			p.metrics.TicketFailures.Inc()
			if _, uerr := p.store.UpdateRecord(finalize, id, model.Failed(err.Error())); uerr != nil {
				return "", fmt.Errorf("recording ticket failure for %s: %w", id, uerr)
			}
			log.WithError(err).Warn("Ticket creation failed")
			return OutcomeFailed, nil
		}
		p.metrics.TicketsCreated.Inc()
	}

	if _, err := p.store.UpdateRecord(finalize, id, model.Succeeded(t.Key)); err != nil {
		p.rememberUnrecorded(id, t)
		return "", fmt.Errorf("recording ticket %s for %s: %w", t.Key, id, err)
	}
	p.forgetUnrecorded(id)
	log = log.WithField("ticket_key", t.Key)
	log.Info("Created ticket for email")

	if err := p.notifier.NotifyTicketCreated(ctx, record.Subject, record.Sender, t); err != nil {
		p.metrics.NotificationFailures.Inc()
		log.WithError(err).Warn("Failed to send ticket notification")
	}

	return OutcomeSucceeded, nil
}

// TestHandle runs a synthetic message through Handle and returns its record.
// Like a pass, it finishes under the message timeout even if ctx is cancelled.
func (p *Pipeline) TestHandle(ctx context.Context, subject, body string) (*model.ProcessingRecord, error) {
	msg := &inbox.Message{
		MessageID:  "test-" + p.newID(),
		Sender:     testSender,
		Subject:    valueOr(subject, inbox.DefaultSubject),
		Body:       valueOr(body, inbox.DefaultBody),
		ReceivedAt: p.now(),
	}

	work := context.WithoutCancel(ctx)
	if _, err := p.handleWithTimeout(work, msg); err != nil {
		return nil, err
	}
	if _, err := p.RecomputeStats(work); err != nil {
		p.log.WithError(err).Error("Failed to recompute stats")
	}
	return p.store.GetRecord(work, msg.MessageID)
}

func (p *Pipeline) unrecordedTicket(id string) (*ticket.Ticket, bool) {
	p.unrecordedMu.Lock()
	defer p.unrecordedMu.Unlock()
	t, ok := p.unrecorded[id]
	return t, ok
}

func (p *Pipeline) rememberUnrecorded(id string, t *ticket.Ticket) {
	p.unrecordedMu.Lock()
	defer p.unrecordedMu.Unlock()
	p.unrecorded[id] = t
}

func (p *Pipeline) forgetUnrecorded(id string) {
	p.unrecordedMu.Lock()
	defer p.unrecordedMu.Unlock()
	delete(p.unrecorded, id)
}

// RecomputeStats derives stats from every record and persists them
func (p *Pipeline) RecomputeStats(ctx context.Context) (*model.SystemStats, error) {
	records, err := p.store.ListRecords(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	stats := model.ComputeStats(records, p.now())
	if err := p.store.SaveStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("saving stats: %w", err)
	}
	return &stats, nil
}

// InProgress reports whether a pass is currently running
func (p *Pipeline) InProgress() bool {
	return p.running.Load()
}

// LastResult returns the result of the most recent completed pass, if any
func (p *Pipeline) LastResult() *PassResult {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	if p.last == nil {
		return nil
	}
	r := *p.last
	return &r
}

func (p *Pipeline) setLast(r *PassResult) {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	cp := *r
	p.last = &cp
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
