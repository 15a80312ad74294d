// Package store persists processing records, the runtime configuration
// singleton and aggregate stats behind a single swappable interface.
package store

import (
	"context"
	"errors"
	"fmt"

	"inbox-ticket-relay/internal/config"
	"inbox-ticket-relay/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for a message id
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateRecord is returned when a record for the message id already exists
	ErrDuplicateRecord = errors.New("record already exists")
	// ErrTerminalRecord is returned when updating a record that already left pending
	ErrTerminalRecord = errors.New("record already in a terminal state")
)

// Store is the record store used by the intake pipeline and the control surface
type Store interface {
	GetRecord(ctx context.Context, messageID string) (*model.ProcessingRecord, error)
	// CreateRecord inserts a new record; it fails with ErrDuplicateRecord
	// when messageID is already present.
	CreateRecord(ctx context.Context, record *model.ProcessingRecord) error
	// UpdateRecord moves a pending record into a terminal state.
	UpdateRecord(ctx context.Context, messageID string, update model.RecordUpdate) (*model.ProcessingRecord, error)
	// ListRecords returns records, most recent first. limit <= 0 returns all.
	ListRecords(ctx context.Context, limit int) ([]model.ProcessingRecord, error)

	GetConfig(ctx context.Context) (*model.SystemConfig, error)
	UpdateConfig(ctx context.Context, update model.ConfigUpdate) (*model.SystemConfig, error)

	GetStats(ctx context.Context) (*model.SystemStats, error)
	SaveStats(ctx context.Context, stats model.SystemStats) error

	Ping(ctx context.Context) error
	Close() error
}

// DefaultSystemConfig seeds the configuration singleton from process configuration
func DefaultSystemConfig(cfg *config.Config) model.SystemConfig {
	sc := model.SystemConfig{
		JiraURL:             cfg.Jira.BaseURL,
		JiraEmail:           cfg.Jira.Email,
		JiraProjectKey:      cfg.Jira.ProjectKey,
		JiraIssueType:       cfg.Jira.IssueType,
		PollIntervalMinutes: cfg.Scheduler.IntervalMinutes,
	}
	if sc.JiraIssueType == "" {
		sc.JiraIssueType = model.DefaultIssueType
	}
	if !model.ValidPollInterval(sc.PollIntervalMinutes) {
		sc.PollIntervalMinutes = model.DefaultPollIntervalMinutes
	}
	if len(cfg.Notification.Addresses) > 0 {
		sc.NotificationEmail = cfg.Notification.Addresses[0]
	}
	return sc
}

// New creates the store selected by the database driver
func New(cfg *config.Config) (Store, error) {
	seed := DefaultSystemConfig(cfg)
	switch cfg.Database.Driver {
	case config.DriverMemory, "":
		return NewMemoryStore(seed), nil
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.Database.Path, seed)
	case config.DriverMySQL:
		return NewMySQLStore(cfg.Database, seed)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

func validateUpdate(update model.RecordUpdate) error {
	if !update.Status.IsTerminal() {
		return fmt.Errorf("invalid target status %q", update.Status)
	}
	return nil
}
