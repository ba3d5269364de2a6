// Package job holds the domain model for tracked background jobs and the
// generation-fenced collection store that reconciles snapshot, push, and
// locally-originated optimistic updates into one consistent view.
package job

import "time"

// Status is the lifecycle stage of a job as reported on the wire.
type Status string

const (
	StatusDataTransfer Status = "Data Transfer"
	StatusQueued       Status = "Queued"
	StatusRunning      Status = "Running"
	StatusCompleted    Status = "Completed"
	StatusFailed       Status = "Failed"
)

// Record is one tracked unit of work. Field names follow the backend wire
// format; StartedAt is ISO-8601 and parses as RFC 3339.
type Record struct {
	ID                string    `json:"job_id"`
	Filename          string    `json:"filename"`
	UserID            string    `json:"user_id"`
	Status            Status    `json:"status"`
	StartedAt         time.Time `json:"started_at"`
	Progress          int       `json:"progress"`
	UploadProgress    *int      `json:"upload_progress,omitempty"`
	Description       string    `json:"description,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ProcessedFilename *string   `json:"processed_filename,omitempty"`
}

// IsTerminal reports whether the job reached a final state.
func (r Record) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}
