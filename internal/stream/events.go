package stream

import (
	"time"

	"bulkgen/internal/domain"
)

// EventType discriminates status events on a subscriber channel.
type EventType string

const (
	EventInitial   EventType = "initial"
	EventUpdate    EventType = "update"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// JobSnapshot is the subscriber-facing view of a job row.
type JobSnapshot struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	ProcessedRows int        `json:"processed_rows"`
	TotalRows     int        `json:"total_rows"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// SnapshotOf projects a job row into its subscriber view.
func SnapshotOf(job *domain.Job) *JobSnapshot {
	return &JobSnapshot{
		ID:            job.ID,
		Status:        string(job.Status),
		Progress:      job.Progress,
		ProcessedRows: job.ProcessedRows,
		TotalRows:     job.TotalRows,
		ErrorMessage:  job.ErrorMessage,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
}

// Event is one message on a subscriber connection. Events are ephemeral and
// never persisted.
type Event struct {
	Type      EventType    `json:"type"`
	JobID     string       `json:"jobId,omitempty"`
	Data      *JobSnapshot `json:"data,omitempty"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
