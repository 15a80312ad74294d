package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"inbox-ticket-relay/internal/inbox"
	"inbox-ticket-relay/internal/model"
	"inbox-ticket-relay/internal/store"
	"inbox-ticket-relay/internal/ticket"
)

type mockTickets struct {
	mock.Mock
}

func (m *mockTickets) CreateTicket(ctx context.Context, subject, body, sender string) (*ticket.Ticket, error) {
	args := m.Called(ctx, subject, body, sender)
	t, _ := args.Get(0).(*ticket.Ticket)
	return t, args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyTicketCreated(ctx context.Context, subject, sender string, t *ticket.Ticket) error {
	args := m.Called(ctx, subject, sender, t)
	return args.Error(0)
}

// fakeMailbox is an in-memory IMAP folder
type fakeMailbox struct {
	mu       sync.Mutex
	messages map[uint32]*inbox.Message
	broken   map[uint32]bool
	seen     map[uint32]bool

	connectErr error
	listErr    error
	markErr    error
	onConnect  func()

	connected   bool
	disconnects int
	markCalls   [][]uint32
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages: map[uint32]*inbox.Message{},
		broken:   map[uint32]bool{},
		seen:     map[uint32]bool{},
	}
}

func (f *fakeMailbox) add(msg *inbox.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.UID] = msg
}

func (f *fakeMailbox) addBroken(uid uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken[uid] = true
}

func (f *fakeMailbox) isSeen(uid uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[uid]
}

func (f *fakeMailbox) Connect(context.Context) error {
	if f.onConnect != nil {
		f.onConnect()
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeMailbox) ListUnseen(context.Context) ([]uint32, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	uids := []uint32{}
	for uid := range f.messages {
		if !f.seen[uid] {
			uids = append(uids, uid)
		}
	}
	for uid := range f.broken {
		if !f.seen[uid] {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (f *fakeMailbox) FetchAndParse(_ context.Context, uid uint32) (*inbox.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[uid] {
		return nil, &inbox.ParseError{UID: uid, Err: errors.New("malformed MIME")}
	}
	msg, ok := f.messages[uid]
	if !ok {
		return nil, &inbox.ParseError{UID: uid, Err: errors.New("no such message")}
	}
	cp := *msg
	return &cp, nil
}

func (f *fakeMailbox) MarkSeen(_ context.Context, uids []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, append([]uint32(nil), uids...))
	if f.markErr != nil {
		return f.markErr
	}
	for _, uid := range uids {
		f.seen[uid] = true
	}
	return nil
}

func (f *fakeMailbox) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return nil
}

// failingStore wraps a store and fails selected operations
type failingStore struct {
	store.Store
	createErr error

	// updateErr is returned by the next updateFailures calls to UpdateRecord
	updateErr      error
	updateFailures int
}

func (s *failingStore) UpdateRecord(ctx context.Context, id string, u model.RecordUpdate) (*model.ProcessingRecord, error) {
	if s.updateFailures > 0 {
		s.updateFailures--
		return nil, s.updateErr
	}
	return s.Store.UpdateRecord(ctx, id, u)
}

func (s *failingStore) CreateRecord(ctx context.Context, r *model.ProcessingRecord) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.CreateRecord(ctx, r)
}
