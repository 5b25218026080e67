package domain

import (
	"context"
	"time"
)

// JobClaimer exposes the store's atomic claim primitives. The claim itself is
// the concurrency guarantee: implementations must flip queued -> processing
// such that no two callers ever claim the same job.
type JobClaimer interface {
	// ClaimNextJob atomically claims a single queued job and returns its id,
	// or ErrNoJobAvailable when the queue is empty.
	ClaimNextJob(ctx context.Context) (string, error)
	// ClaimNextJobs atomically claims up to limit queued jobs.
	ClaimNextJobs(ctx context.Context, limit int) ([]string, error)
}

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// GetStatus re-reads only the status column; used as the cooperative
	// cancellation check between batches.
	GetStatus(ctx context.Context, jobID string) (JobStatus, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Job, error)
	// AppendResults persists a batch checkpoint: new results appended to the
	// results array plus the recomputed processed_rows/progress counters.
	AppendResults(ctx context.Context, jobID string, results []RowResult, processedRows, progress int) error
	// MarkCompleted flips processing -> completed. A row already moved to a
	// terminal state by another writer (a concurrent cancel) is left as-is
	// and reported as ErrJobFinished.
	MarkCompleted(ctx context.Context, jobID string) error
	// MarkFailed flips a non-terminal job to failed, with the same
	// ErrJobFinished guarantee as MarkCompleted.
	MarkFailed(ctx context.Context, jobID, errMsg string) error
	// Cancel flips a queued or processing job owned by userID to cancelled.
	// Returns ErrJobNotCancelled when the job is already terminal.
	Cancel(ctx context.Context, jobID, userID string) error
	// ResetStale requeues processing jobs whose started_at predates olderThan
	// and whose retry_count is below maxRetries, clearing started_at and
	// incrementing retry_count. Returns the number of jobs reset.
	ResetStale(ctx context.Context, olderThan time.Time, maxRetries int) (int64, error)
	// ListUpdatedSince returns the subset of ids whose rows changed after the
	// given instant; backs the change-notification watcher.
	ListUpdatedSince(ctx context.Context, ids []string, since time.Time) ([]Job, error)
}

// CacheRepository handles persistence for memoized model responses.
type CacheRepository interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Put(ctx context.Context, entry *CacheEntry) error
	Touch(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// UsageRecorder persists billing usage records.
type UsageRecorder interface {
	Record(ctx context.Context, rec *UsageRecord) error
}
