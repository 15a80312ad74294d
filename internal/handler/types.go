package handler

import (
	"time"

	"inbox-ticket-relay/internal/model"
	"inbox-ticket-relay/internal/pipeline"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Scheduler string    `json:"scheduler"`
}

// SchedulerStatus describes the timer state
type SchedulerStatus struct {
	Running bool       `json:"running"`
	NextRun *time.Time `json:"next_run,omitempty"`
	LastRun *time.Time `json:"last_run,omitempty"`
}

// StatusResponse is the dashboard overview
type StatusResponse struct {
	Config         *model.SystemConfig  `json:"config"`
	Stats          *model.SystemStats   `json:"stats"`
	Scheduler      SchedulerStatus      `json:"scheduler"`
	PassInProgress bool                 `json:"pass_in_progress"`
	LastPass       *pipeline.PassResult `json:"last_pass,omitempty"`
	UptimeSeconds  int64                `json:"uptime_seconds"`
}

// RecordsResponse lists recent processing records
type RecordsResponse struct {
	Records []model.ProcessingRecord `json:"records"`
	Limit   int                      `json:"limit"`
}

// TestEmailRequest asks for a test notification
type TestEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// TestProcessRequest runs a synthetic message through the pipeline
type TestProcessRequest struct {
	Subject string `json:"subject" binding:"required"`
	Body    string `json:"body"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
