package model

import (
	"time"
)

// RecordStatus is the processing state of an inbound message
type RecordStatus string

const (
	StatusPending RecordStatus = "pending"
	StatusSuccess RecordStatus = "success"
	StatusFailed  RecordStatus = "failed"
)

// IsTerminal reports whether the status can no longer change
func (s RecordStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ProcessingRecord is the account of one inbound message's processing outcome
type ProcessingRecord struct {
	ID           uint         `json:"id" gorm:"primaryKey;autoIncrement" db:"id"`
	MessageID    string       `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex" db:"message_id"`
	Sender       string       `json:"sender" gorm:"type:varchar(512);not null" db:"sender"`
	Subject      string       `json:"subject" gorm:"type:text;not null" db:"subject"`
	Body         string       `json:"body" gorm:"type:mediumtext;not null" db:"body"`
	Status       RecordStatus `json:"status" gorm:"type:varchar(20);not null;index" db:"status"`
	TicketKey    *string      `json:"ticket_key" gorm:"type:varchar(64)" db:"ticket_key"`
	ErrorMessage *string      `json:"error_message" gorm:"type:text" db:"error_message"`
	ProcessedAt  time.Time    `json:"processed_at" gorm:"not null;index" db:"processed_at"`
}

// TableName specifies the table name for ProcessingRecord
func (ProcessingRecord) TableName() string {
	return "processing_records"
}

// RecordUpdate moves a pending record into a terminal state
type RecordUpdate struct {
	Status       RecordStatus
	TicketKey    *string
	ErrorMessage *string
}

// Succeeded builds the update for a created ticket
func Succeeded(ticketKey string) RecordUpdate {
	return RecordUpdate{Status: StatusSuccess, TicketKey: &ticketKey}
}

// Failed builds the update for a rejected ticket
func Failed(errMsg string) RecordUpdate {
	return RecordUpdate{Status: StatusFailed, ErrorMessage: &errMsg}
}

// Apply copies the update onto the record
func (u RecordUpdate) Apply(r *ProcessingRecord) {
	r.Status = u.Status
	r.TicketKey = u.TicketKey
	r.ErrorMessage = u.ErrorMessage
}
