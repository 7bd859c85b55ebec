package models

import "time"

// SyncTask represents a queued mirror job for Sheets.
type SyncTask struct {
	ID         string          `json:"id"`
	TaskType   string          `json:"task_type"`
	RequestID  string          `json:"request_id"`
	Request    *ServiceRequest `json:"request,omitempty"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
