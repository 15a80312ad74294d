package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"inbox-ticket-relay/internal/model"
)

// MemoryStore keeps everything in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*model.ProcessingRecord
	nextID  uint
	config  model.SystemConfig
	stats   model.SystemStats
}

// NewMemoryStore creates an empty store seeded with the given configuration
func NewMemoryStore(seed model.SystemConfig) *MemoryStore {
	seed.ID = 1
	return &MemoryStore{
		records: make(map[string]*model.ProcessingRecord),
		config:  seed,
		stats:   model.SystemStats{ID: 1, LastUpdated: time.Now()},
	}
}

func (s *MemoryStore) GetRecord(_ context.Context, messageID string) (*model.ProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) CreateRecord(_ context.Context, record *model.ProcessingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.MessageID]; exists {
		return ErrDuplicateRecord
	}
	s.nextID++
	record.ID = s.nextID
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}
	cp := *record
	s.records[record.MessageID] = &cp
	return nil
}

func (s *MemoryStore) UpdateRecord(_ context.Context, messageID string, update model.RecordUpdate) (*model.ProcessingRecord, error) {
	if err := validateUpdate(update); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status.IsTerminal() {
		return nil, ErrTerminalRecord
	}
	update.Apply(r)
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRecords(_ context.Context, limit int) ([]model.ProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ProcessingRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ProcessedAt.After(out[j].ProcessedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetConfig(_ context.Context) (*model.SystemConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.config
	return &cp, nil
}

func (s *MemoryStore) UpdateConfig(_ context.Context, update model.ConfigUpdate) (*model.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update.Merge(&s.config)
	cp := s.config
	return &cp, nil
}

func (s *MemoryStore) GetStats(_ context.Context) (*model.SystemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.stats
	return &cp, nil
}

func (s *MemoryStore) SaveStats(_ context.Context, stats model.SystemStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats.ID = 1
	s.stats = stats
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
