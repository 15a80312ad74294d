package model

import (
	"math"
	"time"
)

// SystemStats holds aggregate counters derived from the record set
type SystemStats struct {
	ID              uint      `json:"-" gorm:"primaryKey" db:"id"`
	EmailsProcessed int       `json:"emails_processed" gorm:"not null;default:0" db:"emails_processed"`
	TasksCreated    int       `json:"tasks_created" gorm:"not null;default:0" db:"tasks_created"`
	SuccessRate     int       `json:"success_rate" gorm:"not null;default:0" db:"success_rate"`
	LastUpdated     time.Time `json:"last_updated" db:"last_updated"`
}

// TableName specifies the table name for SystemStats
func (SystemStats) TableName() string {
	return "system_stats"
}

// ComputeStats derives stats from the full record set.
// The success rate is round(100 * success / total), or 0 for no records.
func ComputeStats(records []ProcessingRecord, now time.Time) SystemStats {
	stats := SystemStats{
		EmailsProcessed: len(records),
		LastUpdated:     now,
	}
	for _, r := range records {
		if r.Status == StatusSuccess {
			stats.TasksCreated++
		}
	}
	if stats.EmailsProcessed > 0 {
		stats.SuccessRate = int(math.Round(100 * float64(stats.TasksCreated) / float64(stats.EmailsProcessed)))
	}
	return stats
}
