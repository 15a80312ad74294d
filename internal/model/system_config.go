package model

import "time"

const (
	// DefaultIssueType is used when no issue type has been configured
	DefaultIssueType = "Task"
	// DefaultPollIntervalMinutes is the interval between scheduled passes
	DefaultPollIntervalMinutes = 10
	MinPollIntervalMinutes     = 1
	MaxPollIntervalMinutes     = 60
)

// SystemConfig is the runtime-editable configuration singleton
type SystemConfig struct {
	ID                  uint       `json:"-" gorm:"primaryKey" db:"id"`
	JiraURL             string     `json:"jira_url" gorm:"type:varchar(512);not null" db:"jira_url"`
	JiraEmail           string     `json:"jira_email" gorm:"type:varchar(255);not null" db:"jira_email"`
	JiraProjectKey      string     `json:"jira_project_key" gorm:"type:varchar(64);not null" db:"jira_project_key"`
	JiraIssueType       string     `json:"jira_issue_type" gorm:"type:varchar(64);not null;default:Task" db:"jira_issue_type"`
	NotificationEmail   string     `json:"notification_email" gorm:"type:varchar(255);not null" db:"notification_email"`
	PollIntervalMinutes int        `json:"poll_interval_minutes" gorm:"not null;default:10" db:"poll_interval_minutes"`
	IsRunning           bool       `json:"is_running" gorm:"not null;default:false" db:"is_running"`
	LastRunAt           *time.Time `json:"last_run_at" db:"last_run_at"`
}

// TableName specifies the table name for SystemConfig
func (SystemConfig) TableName() string {
	return "system_config"
}

// ConfigUpdate is a partial update; nil fields are left unchanged
type ConfigUpdate struct {
	JiraURL             *string    `json:"jira_url" binding:"omitempty,url"`
	JiraEmail           *string    `json:"jira_email" binding:"omitempty,email"`
	JiraProjectKey      *string    `json:"jira_project_key" binding:"omitempty,min=1,max=64"`
	JiraIssueType       *string    `json:"jira_issue_type" binding:"omitempty,min=1,max=64"`
	NotificationEmail   *string    `json:"notification_email" binding:"omitempty,email"`
	PollIntervalMinutes *int       `json:"poll_interval_minutes" binding:"omitempty,min=1,max=60"`
	IsRunning           *bool      `json:"is_running"`
	LastRunAt           *time.Time `json:"-"`
}

// Merge applies the non-nil fields of u onto c
func (u ConfigUpdate) Merge(c *SystemConfig) {
	if u.JiraURL != nil {
		c.JiraURL = *u.JiraURL
	}
	if u.JiraEmail != nil {
		c.JiraEmail = *u.JiraEmail
	}
	if u.JiraProjectKey != nil {
		c.JiraProjectKey = *u.JiraProjectKey
	}
	if u.JiraIssueType != nil {
		c.JiraIssueType = *u.JiraIssueType
	}
	if u.NotificationEmail != nil {
		c.NotificationEmail = *u.NotificationEmail
	}
	if u.PollIntervalMinutes != nil {
		c.PollIntervalMinutes = *u.PollIntervalMinutes
	}
	if u.IsRunning != nil {
		c.IsRunning = *u.IsRunning
	}
	if u.LastRunAt != nil {
		t := *u.LastRunAt
		c.LastRunAt = &t
	}
}

// ValidPollInterval reports whether minutes is within the accepted bounds
func ValidPollInterval(minutes int) bool {
	return minutes >= MinPollIntervalMinutes && minutes <= MaxPollIntervalMinutes
}
