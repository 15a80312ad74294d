package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inbox-ticket-relay/internal/inbox"
	"inbox-ticket-relay/internal/metrics"
	"inbox-ticket-relay/internal/model"
	"inbox-ticket-relay/internal/notify"
	"inbox-ticket-relay/internal/store"
	"inbox-ticket-relay/internal/ticket"
)

type fixture struct {
	mailbox  *fakeMailbox
	store    *store.MemoryStore
	tickets  *mockTickets
	notifier *mockNotifier
	metrics  *metrics.Metrics
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mailbox:  newFakeMailbox(),
		store:    store.NewMemoryStore(model.SystemConfig{JiraProjectKey: "IT", PollIntervalMinutes: 10}),
		tickets:  &mockTickets{},
		notifier: &mockNotifier{},
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
	}
	f.pipeline = New(f.mailbox, f.store, f.tickets, f.notifier, f.metrics, time.Second)
	return f
}

func printerMessage(uid uint32) *inbox.Message {
	return &inbox.Message{
		UID:        uid,
		MessageID:  "printer-1@example.com",
		Sender:     "a@b.com",
		Subject:    "Printer issue",
		Body:       "won't print",
		ReceivedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestRunCreatesTicketAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailbox.add(printerMessage(1))

	tk := &ticket.Ticket{ID: "1", Key: "IT-42", URL: "https://acme.atlassian.net/browse/IT-42"}
	f.tickets.On("CreateTicket", mock.Anything, "Printer issue", "won't print", "a@b.com").Return(tk, nil).Once()
	f.notifier.On("NotifyTicketCreated", mock.Anything, "Printer issue", "a@b.com", tk).Return(nil).Once()

	result, err := f.pipeline.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Found)
	assert.Equal(t, 1, result.Parsed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.MarkedSeen)

	rec, err := f.store.GetRecord(ctx, "printer-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	require.NotNil(t, rec.TicketKey)
	assert.Equal(t, "IT-42", *rec.TicketKey)
	assert.Nil(t, rec.ErrorMessage)

	assert.True(t, f.mailbox.isSeen(1))
	assert.Equal(t, 1, f.mailbox.disconnects)

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EmailsProcessed)
	assert.Equal(t, 1, stats.TasksCreated)
	assert.Equal(t, 100, stats.SuccessRate)
	assert.Equal(t, stats.SuccessRate, result.Stats.SuccessRate)

	cfg, err := f.store.GetConfig(ctx)
	require.NoError(t, err)
	assert.NotNil(t, cfg.LastRunAt)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TicketsCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Passes.WithLabelValues("ok")))
	assert.NotNil(t, f.pipeline.LastResult())

	f.tickets.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestRunRecordsRejectedTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailbox.add(printerMessage(1))

	apiErr := &ticket.APIError{StatusCode: http.StatusBadRequest, Body: `{"errors":{"summary":"invalid"}}`}
	f.tickets.On("CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, apiErr).Once()

	result, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	rec, err := f.store.GetRecord(ctx, "printer-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Nil(t, rec.TicketKey)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "400")
	assert.Contains(t, *rec.ErrorMessage, "invalid")

	assert.True(t, f.mailbox.isSeen(1))
	f.notifier.AssertNotCalled(t, "NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SuccessRate)
	assert.Equal(t, 1, stats.EmailsProcessed)
}

func TestHandleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := printerMessage(1)

	f.tickets.On("CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&ticket.Ticket{Key: "IT-1"}, nil).Once()
	f.notifier.On("NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	first, err := f.pipeline.Handle(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, first)

	second, err := f.pipeline.Handle(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second)

	records, err := f.store.ListRecords(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	f.tickets.AssertNumberOfCalls(t, "CreateTicket", 1)
	f.notifier.AssertNumberOfCalls(t, "NotifyTicketCreated", 1)
}

func TestRunAfterMarkSeenFailureIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailbox.add(printerMessage(1))
	f.mailbox.markErr = errors.New("connection reset")

	f.tickets.On("CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&ticket.Ticket{Key: "IT-1"}, nil).Once()
	f.notifier.On("NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	result, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.MarkedSeen)
	assert.False(t, f.mailbox.isSeen(1))

	f.mailbox.markErr = nil
	result, err = f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.MarkedSeen)
	assert.True(t, f.mailbox.isSeen(1))

	f.tickets.AssertNumberOfCalls(t, "CreateTicket", 1)
}

func TestRunLeavesUnparseableMessageUnseen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailbox.addBroken(5)
	f.mailbox.add(printerMessage(6))

	f.tickets.On("CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&ticket.Ticket{Key: "IT-2"}, nil).Once()
	f.notifier.On("NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Found)
	assert.Equal(t, 1, result.ParseFailures)
	assert.Equal(t, 1, result.Succeeded)

	assert.False(t, f.mailbox.isSeen(5))
	assert.True(t, f.mailbox.isSeen(6))
	assert.Equal(t, [][]uint32{{6}}, f.mailbox.markCalls)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ParseFailures))
}

func TestRunConnectionErrorTouchesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailbox.add(printerMessage(1))
	f.mailbox.connectErr = &inbox.ConnectionError{Op: "login", Err: errors.New("bad credentials")}
	before, err := f.store.GetStats(ctx)
	require.NoError(t, err)

	result, err := f.pipeline.Run(ctx)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, inbox.IsConnectionError(err))

	assert.Empty(t, f.mailbox.markCalls)
	cfg, err := f.store.GetConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg.LastRunAt)

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, stats)

	f.tickets.AssertNotCalled(t, "CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Passes.WithLabelValues("error")))

	last := f.pipeline.LastResult()
	require.NotNil(t, last)
	assert.Contains(t, last.Error, "bad credentials")
	assert.False(t, last.StartedAt.IsZero())
	assert.Equal(t, 0, last.Found)
}

func TestLastResultReplacedByAbortedPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, f.pipeline.LastResult().Error)

	f.mailbox.listErr = &inbox.ConnectionError{Op: "search", Err: errors.New("timeout")}
	_, err = f.pipeline.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, f.pipeline.LastResult().Error, "listing unseen messages")
}

func TestCancelDuringTicketFinishesMessage(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.mailbox.add(printerMessage(1))
	second := printerMessage(2)
	second.MessageID = "printer-2@example.com"
	f.mailbox.add(second)

	tk := &ticket.Ticket{Key: "IT-42"}
	f.tickets.On("CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(tk, nil).Once()
	f.notifier.On("NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, tk).Return(nil).Once()

	result, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.MarkedSeen)

	rec, err := f.store.GetRecord(context.Background(), "printer-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Equal(t, "IT-42", *rec.TicketKey)
	assert.True(t, f.mailbox.isSeen(1))

	_, err = f.store.GetRecord(context.Background(), "printer-2@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, f.mailbox.isSeen(2))
	f.tickets.AssertNumberOfCalls(t, "CreateTicket", 1)
}

func TestTestHandleIgnoresCallerCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.tickets.On("CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(&ticket.Ticket{Key: "IT-8"}, nil)
	f.notifier.On("NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	rec, err := f.pipeline.TestHandle(ctx, "VPN down", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
}

func TestUnrecordedTicketIsRecordedOnNextPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := &failingStore{Store: f.store, updateErr: errors.New("database is locked"), updateFailures: 1}
	p := New(f.mailbox, flaky, f.tickets, f.notifier, f.metrics, time.Second)
	f.mailbox.add(printerMessage(1))

	tk := &ticket.Ticket{Key: "IT-5"}
	f.tickets.On("CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(tk, nil).Once()
	f.notifier.On("NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, tk).Return(nil).Once()

	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.HandleErrors)
	assert.False(t, f.mailbox.isSeen(1))
	rec, err := f.store.GetRecord(ctx, "printer-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)

	result, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.True(t, f.mailbox.isSeen(1))

	rec, err = f.store.GetRecord(ctx, "printer-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Equal(t, "IT-5", *rec.TicketKey)

	f.tickets.AssertNumberOfCalls(t, "CreateTicket", 1)
	f.notifier.AssertNumberOfCalls(t, "NotifyTicketCreated", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TicketsCreated))
}

func TestPendingRecordWithoutTicketIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailbox.add(printerMessage(1))
	require.NoError(t, f.store.CreateRecord(ctx, &model.ProcessingRecord{
		MessageID: "printer-1@example.com",
		Sender:    "a@b.com",
		Subject:   "Printer issue",
		Body:      "won't print",
		Status:    model.StatusPending,
	}))

	f.tickets.On("CreateTicket", mock.Anything, "Printer issue", "won't print", "a@b.com").
		Return(&ticket.Ticket{Key: "IT-6"}, nil).Once()
	f.notifier.On("NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Duplicates)

	rec, err := f.store.GetRecord(ctx, "printer-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.True(t, f.mailbox.isSeen(1))
}

func TestRunListErrorReleasesSession(t *testing.T) {
	f := newFixture(t)
	f.mailbox.listErr = &inbox.ConnectionError{Op: "search", Err: errors.New("timeout")}

	_, err := f.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, f.mailbox.disconnects)
	assert.False(t, f.mailbox.connected)
}

func TestRunEmptyInbox(t *testing.T) {
	f := newFixture(t)

	result, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Found)
	assert.Empty(t, f.mailbox.markCalls)
	require.NotNil(t, result.Stats)
	assert.Equal(t, 0, result.Stats.SuccessRate)
}

func TestNotificationFailureKeepsSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailbox.add(printerMessage(1))

	f.tickets.On("CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&ticket.Ticket{Key: "IT-9"}, nil)
	f.notifier.On("NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&notify.DeliveryError{Recipients: []string{"ops@example.com"}, Err: errors.New("535 auth failed")})

	result, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	rec, err := f.store.GetRecord(ctx, "printer-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Equal(t, "IT-9", *rec.TicketKey)
	assert.True(t, f.mailbox.isSeen(1))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.NotificationFailures))
}

func TestStoreFailureLeavesMessageUnseen(t *testing.T) {
	f := newFixture(t)
	broken := &failingStore{Store: f.store, createErr: errors.New("disk full")}
	p := New(f.mailbox, broken, f.tickets, f.notifier, f.metrics, time.Second)
	f.mailbox.add(printerMessage(1))

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.HandleErrors)
	assert.False(t, f.mailbox.isSeen(1))
	f.tickets.AssertNotCalled(t, "CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConcurrentCreatorCountsAsDuplicate(t *testing.T) {
	f := newFixture(t)
	racing := &failingStore{Store: f.store, createErr: store.ErrDuplicateRecord}
	p := New(f.mailbox, racing, f.tickets, f.notifier, f.metrics, time.Second)

	outcome, err := p.Handle(context.Background(), printerMessage(1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	f.tickets.AssertNotCalled(t, "CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleTicketTimeoutStillRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := New(f.mailbox, f.store, f.tickets, f.notifier, f.metrics, 20*time.Millisecond)

	f.tickets.On("CreateTicket", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, &ticket.APIError{Err: context.DeadlineExceeded})

	outcome, err := p.handleWithTimeout(ctx, printerMessage(1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	rec, err := f.store.GetRecord(ctx, "printer-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, rec.Status)
}

func TestHandleAppliesDefaultsAndFallbackID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := &inbox.Message{UID: 77, ReceivedAt: time.UnixMilli(1700000000000)}

	f.tickets.On("CreateTicket", mock.Anything, inbox.DefaultSubject, inbox.DefaultBody, inbox.DefaultSender).
		Return(&ticket.Ticket{Key: "IT-3"}, nil)
	f.notifier.On("NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.pipeline.Handle(ctx, msg)
	require.NoError(t, err)

	rec, err := f.store.GetRecord(ctx, "email-1700000000000-77")
	require.NoError(t, err)
	assert.Equal(t, inbox.DefaultSubject, rec.Subject)
	assert.Equal(t, inbox.DefaultBody, rec.Body)
	assert.Equal(t, inbox.DefaultSender, rec.Sender)
}

func TestRunRejectsOverlappingPass(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.mailbox.onConnect = func() {
		close(entered)
		<-release
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.pipeline.Run(context.Background())
		assert.NoError(t, err)
	}()

	<-entered
	assert.True(t, f.pipeline.InProgress())
	_, err := f.pipeline.Run(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(release)
	wg.Wait()
	assert.False(t, f.pipeline.InProgress())
}

func TestTestHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pipeline.newID = func() string { return "fixed" }

	f.tickets.On("CreateTicket", mock.Anything, "VPN down", "cannot connect", "test@example.com").
		Return(&ticket.Ticket{Key: "IT-7"}, nil)
	f.notifier.On("NotifyTicketCreated", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	rec, err := f.pipeline.TestHandle(ctx, "VPN down", "cannot connect")
	require.NoError(t, err)
	assert.Equal(t, "test-fixed", rec.MessageID)
	assert.True(t, strings.HasPrefix(rec.MessageID, "test-"))
	assert.Equal(t, model.StatusSuccess, rec.Status)

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TasksCreated)
}

func TestRecomputeStatsRounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	for i, status := range []model.RecordStatus{model.StatusSuccess, model.StatusSuccess, model.StatusFailed} {
		rec := &model.ProcessingRecord{
			MessageID:   string(rune('a' + i)),
			Status:      model.StatusPending,
			ProcessedAt: now,
		}
		require.NoError(t, f.store.CreateRecord(ctx, rec))
		update := model.Succeeded("IT-1")
		if status == model.StatusFailed {
			update = model.Failed("boom")
		}
		_, err := f.store.UpdateRecord(ctx, rec.MessageID, update)
		require.NoError(t, err)
	}

	stats, err := f.pipeline.RecomputeStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.EmailsProcessed)
	assert.Equal(t, 2, stats.TasksCreated)
	assert.Equal(t, 67, stats.SuccessRate)
}
