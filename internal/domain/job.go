package domain

import (
	"math"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// InputRow is one unit of work inside a job. Index is stable across retries
// and is the resumability anchor.
type InputRow struct {
	Index int    `json:"index"`
	Input string `json:"input"`
}

// RowResult is the outcome of one input row. Rows that failed individually
// carry Error and an empty Output; they still count as processed.
type RowResult struct {
	Index  int    `json:"index"`
	Input  string `json:"input"`
	Output string `json:"output"`
	Tokens int    `json:"tokens"`
	Cached bool   `json:"cached"`
	Error  string `json:"error,omitempty"`
}

// JobConfig carries the provider selection and credential for a job.
type JobConfig struct {
	Provider            string
	Model               string
	EncryptedCredential string
	PromptTemplate      string
	TaskType            string
}

// Job encapsulates the lifecycle of one bulk generation request.
type Job struct {
	ID            string
	UserID        string
	Status        JobStatus
	Config        JobConfig
	InputData     []InputRow
	Results       []RowResult
	Progress      int
	ProcessedRows int
	TotalRows     int
	RetryCount    int
	ErrorMessage  string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PendingRows returns the input rows whose index has no entry in Results yet,
// preserving input order.
func (j *Job) PendingRows() []InputRow {
	done := make(map[int]struct{}, len(j.Results))
	for _, r := range j.Results {
		done[r.Index] = struct{}{}
	}
	var pending []InputRow
	for _, row := range j.InputData {
		if _, ok := done[row.Index]; ok {
			continue
		}
		pending = append(pending, row)
	}
	return pending
}

// ProgressPercent derives the 0-100 progress value from processed/total rows.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}

// SchedulerSummary aggregates the outcome of one scheduler tick.
type SchedulerSummary struct {
	JobsProcessed      int
	Completed          int
	Failed             int
	TotalRowsProcessed int
	TotalTokens        int
	StaleJobsReset     int
	Elapsed            time.Duration
}

// UsageRecord captures billable work done by a completed job.
type UsageRecord struct {
	ID            string
	JobID         string
	UserID        string
	RowsProcessed int
	InputTokens   int
	OutputTokens  int
	EstimatedCost float64
	CreatedAt     time.Time
}

// CacheEntry is a memoized model response.
type CacheEntry struct {
	Key        string
	Model      string
	Response   string
	TokensUsed int
	HitCount   int
	LastHitAt  *time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}
