package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"inbox-ticket-relay/internal/model"
)

// SQLiteStore implements Store on a local SQLite database
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs
// pending migrations and seeds the configuration and stats singletons.
func NewSQLiteStore(dbPath string, seed model.SystemConfig) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// a single writer keeps UNIQUE checks and pending->terminal updates serialized
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.seed(seed); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding singletons: %w", err)
	}
	return s, nil
}

// runMigrations applies outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) seed(cfg model.SystemConfig) error {
	_, err := s.db.Exec(`
INSERT OR IGNORE INTO system_config
	(id, jira_url, jira_email, jira_project_key, jira_issue_type, notification_email, poll_interval_minutes, is_running)
VALUES (1, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.JiraURL, cfg.JiraEmail, cfg.JiraProjectKey, cfg.JiraIssueType,
		cfg.NotificationEmail, cfg.PollIntervalMinutes, cfg.IsRunning)
	if err != nil {
		return fmt.Errorf("seeding system_config: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR IGNORE INTO system_stats (id, last_updated) VALUES (1, ?)`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("seeding system_stats: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, messageID string) (*model.ProcessingRecord, error) {
	var r model.ProcessingRecord
	err := s.db.GetContext(ctx, &r, "SELECT * FROM processing_records WHERE message_id = ?", messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", messageID, err)
	}
	return &r, nil
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, record *model.ProcessingRecord) error {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}
	res, err := s.db.NamedExecContext(ctx, `
INSERT INTO processing_records
	(message_id, sender, subject, body, status, ticket_key, error_message, processed_at)
VALUES (:message_id, :sender, :subject, :body, :status, :ticket_key, :error_message, :processed_at)`,
		record)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("creating record %s: %w", record.MessageID, err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		record.ID = uint(id)
	}
	return nil
}

func (s *SQLiteStore) UpdateRecord(ctx context.Context, messageID string, update model.RecordUpdate) (*model.ProcessingRecord, error) {
	if err := validateUpdate(update); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE processing_records
SET status = ?, ticket_key = ?, error_message = ?
WHERE message_id = ? AND status = ?`,
		update.Status, update.TicketKey, update.ErrorMessage, messageID, model.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("updating record %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("updating record %s: %w", messageID, err)
	}

	current, err := s.GetRecord(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrTerminalRecord
	}
	return current, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, limit int) ([]model.ProcessingRecord, error) {
	query := "SELECT * FROM processing_records ORDER BY processed_at DESC, id DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	records := []model.ProcessingRecord{}
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) GetConfig(ctx context.Context) (*model.SystemConfig, error) {
	var c model.SystemConfig
	if err := s.db.GetContext(ctx, &c, "SELECT * FROM system_config WHERE id = 1"); err != nil {
		return nil, fmt.Errorf("getting system config: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) UpdateConfig(ctx context.Context, update model.ConfigUpdate) (*model.SystemConfig, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning config update: %w", err)
	}
	defer tx.Rollback()

	var c model.SystemConfig
	if err := tx.GetContext(ctx, &c, "SELECT * FROM system_config WHERE id = 1"); err != nil {
		return nil, fmt.Errorf("getting system config: %w", err)
	}
	update.Merge(&c)

	_, err = tx.NamedExecContext(ctx, `
UPDATE system_config SET
	jira_url = :jira_url,
	jira_email = :jira_email,
	jira_project_key = :jira_project_key,
	jira_issue_type = :jira_issue_type,
	notification_email = :notification_email,
	poll_interval_minutes = :poll_interval_minutes,
	is_running = :is_running,
	last_run_at = :last_run_at
WHERE id = :id`, &c)
	if err != nil {
		return nil, fmt.Errorf("updating system config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing config update: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetStats(ctx context.Context) (*model.SystemStats, error) {
	var st model.SystemStats
	if err := s.db.GetContext(ctx, &st, "SELECT * FROM system_stats WHERE id = 1"); err != nil {
		return nil, fmt.Errorf("getting system stats: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStore) SaveStats(ctx context.Context, stats model.SystemStats) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE system_stats SET emails_processed = ?, tasks_created = ?, success_rate = ?, last_updated = ?
WHERE id = 1`,
		stats.EmailsProcessed, stats.TasksCreated, stats.SuccessRate, stats.LastUpdated)
	if err != nil {
		return fmt.Errorf("saving system stats: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
