package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inbox-ticket-relay/internal/config"
	"inbox-ticket-relay/internal/db"
	"inbox-ticket-relay/internal/model"
)

const singletonID = 1

// GormStore implements Store on a gorm connection
type GormStore struct {
	db *gorm.DB
}

// NewMySQLStore connects to MySQL, migrates the schema and seeds the singletons
func NewMySQLStore(cfg config.DatabaseConfig, seed model.SystemConfig) (*GormStore, error) {
	conn, err := db.Init(cfg)
	if err != nil {
		return nil, err
	}
	return NewGormStore(conn, seed)
}

// NewGormStore wraps an already migrated gorm connection
func NewGormStore(conn *gorm.DB, seed model.SystemConfig) (*GormStore, error) {
	seed.ID = singletonID
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("failed to seed system config: %w", err)
	}
	stats := model.SystemStats{ID: singletonID, LastUpdated: time.Now()}
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to seed system stats: %w", err)
	}
	return &GormStore{db: conn}, nil
}

func (s *GormStore) GetRecord(ctx context.Context, messageID string) (*model.ProcessingRecord, error) {
	var record model.ProcessingRecord
	result := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&record)
	if result.Error == nil {
		return &record, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("database error checking record: %w", result.Error)
}

func (s *GormStore) CreateRecord(ctx context.Context, record *model.ProcessingRecord) error {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}
	result := s.db.WithContext(ctx).Create(record)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return ErrDuplicateRecord
	}
	if result.Error != nil {
		return fmt.Errorf("failed to create record: %w", result.Error)
	}
	return nil
}

func (s *GormStore) UpdateRecord(ctx context.Context, messageID string, update model.RecordUpdate) (*model.ProcessingRecord, error) {
	if err := validateUpdate(update); err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).
		Model(&model.ProcessingRecord{}).
		Where("message_id = ? AND status = ?", messageID, model.StatusPending).
		Updates(map[string]interface{}{
			"status":        update.Status,
			"ticket_key":    update.TicketKey,
			"error_message": update.ErrorMessage,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update record: %w", result.Error)
	}

	record, err := s.GetRecord(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return nil, ErrTerminalRecord
	}
	return record, nil
}

func (s *GormStore) ListRecords(ctx context.Context, limit int) ([]model.ProcessingRecord, error) {
	var records []model.ProcessingRecord
	q := s.db.WithContext(ctx).Order("processed_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

func (s *GormStore) GetConfig(ctx context.Context) (*model.SystemConfig, error) {
	var cfg model.SystemConfig
	if err := s.db.WithContext(ctx).First(&cfg, singletonID).Error; err != nil {
		return nil, fmt.Errorf("failed to get system config: %w", err)
	}
	return &cfg, nil
}

func (s *GormStore) UpdateConfig(ctx context.Context, update model.ConfigUpdate) (*model.SystemConfig, error) {
	var cfg model.SystemConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cfg, singletonID).Error; err != nil {
			return err
		}
		update.Merge(&cfg)
		return tx.Save(&cfg).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update system config: %w", err)
	}
	return &cfg, nil
}

func (s *GormStore) GetStats(ctx context.Context) (*model.SystemStats, error) {
	var stats model.SystemStats
	if err := s.db.WithContext(ctx).First(&stats, singletonID).Error; err != nil {
		return nil, fmt.Errorf("failed to get system stats: %w", err)
	}
	return &stats, nil
}

func (s *GormStore) SaveStats(ctx context.Context, stats model.SystemStats) error {
	stats.ID = singletonID
	if err := s.db.WithContext(ctx).Save(&stats).Error; err != nil {
		return fmt.Errorf("failed to save system stats: %w", err)
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.Close()
}
