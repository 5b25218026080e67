package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bulkgen/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository and domain.JobClaimer.
// Claim atomicity relies on FOR UPDATE SKIP LOCKED, so concurrent scheduler
// ticks can never move the same job into processing twice.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, user_id, status, provider, model, encrypted_credential, prompt_template, task_type,
input_data, results, progress, processed_rows, total_rows, retry_count, error_message,
started_at, completed_at, created_at, updated_at`

// Create inserts a new queued job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	inputJSON, err := json.Marshal(job.InputData)
	if err != nil {
		return fmt.Errorf("encode input data: %w", err)
	}
	query := `
INSERT INTO jobs (id, user_id, status, provider, model, encrypted_credential, prompt_template, task_type, input_data, total_rows)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Status,
		job.Config.Provider,
		job.Config.Model,
		job.Config.EncryptedCredential,
		job.Config.PromptTemplate,
		job.Config.TaskType,
		inputJSON,
		job.TotalRows,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// GetStatus re-reads only the status column.
func (r *JobRepositoryPG) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	var status domain.JobStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return status, nil
}

// ListByUser returns the user's jobs, newest first.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ClaimNextJob atomically claims a single queued job.
func (r *JobRepositoryPG) ClaimNextJob(ctx context.Context) (string, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM jobs
    WHERE status = 'queued'
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE jobs
SET status = 'processing', started_at = now(), updated_at = now()
WHERE id IN (SELECT id FROM next_job)
RETURNING id;
`
	var id string
	if err := r.pool.QueryRow(ctx, query).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNoJobAvailable
		}
		return "", err
	}
	return id, nil
}

// ClaimNextJobs atomically claims up to limit queued jobs.
func (r *JobRepositoryPG) ClaimNextJobs(ctx context.Context, limit int) ([]string, error) {
	query := `
WITH next_jobs AS (
    SELECT id
    FROM jobs
    WHERE status = 'queued'
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT $1
)
UPDATE jobs
SET status = 'processing', started_at = now(), updated_at = now()
WHERE id IN (SELECT id FROM next_jobs)
RETURNING id;
`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendResults persists one batch checkpoint.
func (r *JobRepositoryPG) AppendResults(ctx context.Context, jobID string, results []domain.RowResult, processedRows, progress int) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	query := `
UPDATE jobs
SET results = results || $2::jsonb,
    processed_rows = $3,
    progress = $4,
    updated_at = now()
WHERE id = $1;
`
	_, err = r.pool.Exec(ctx, query, jobID, resultsJSON, processedRows, progress)
	return err
}

// MarkCompleted finalizes a successful run. The write is conditional on the
// row still being in processing, so a cancel that landed during the final
// batch wins: the caller gets ErrJobFinished and must leave the row alone.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID string) error {
	query := `
UPDATE jobs
SET status = 'completed',
    progress = 100,
    completed_at = now(),
    updated_at = now()
WHERE id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, query, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return r.finalizeMiss(ctx, jobID)
}

// MarkFailed finalizes a failed run, preserving already-persisted results.
// Terminal rows are never overwritten.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	query := `
UPDATE jobs
SET status = 'failed',
    error_message = $2,
    completed_at = now(),
    updated_at = now()
WHERE id = $1 AND status IN ('queued', 'processing');
`
	tag, err := r.pool.Exec(ctx, query, jobID, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return r.finalizeMiss(ctx, jobID)
}

// finalizeMiss classifies a zero-row finalizing update: the job either does
// not exist or already reached a terminal state through another writer.
func (r *JobRepositoryPG) finalizeMiss(ctx context.Context, jobID string) error {
	var status domain.JobStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrJobFinished
}

// Cancel flips a queued or processing job owned by userID to cancelled.
func (r *JobRepositoryPG) Cancel(ctx context.Context, jobID, userID string) error {
	query := `
UPDATE jobs
SET status = 'cancelled',
    completed_at = now(),
    updated_at = now()
WHERE id = $1 AND user_id = $2 AND status IN ('queued', 'processing');
`
	tag, err := r.pool.Exec(ctx, query, jobID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var owner string
	err = r.pool.QueryRow(ctx, `SELECT user_id FROM jobs WHERE id = $1;`, jobID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != userID) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrJobNotCancelled
}

// ResetStale requeues processing jobs stuck past the staleness window, up to
// the retry ceiling. Jobs over the ceiling stay quarantined in processing.
func (r *JobRepositoryPG) ResetStale(ctx context.Context, olderThan time.Time, maxRetries int) (int64, error) {
	query := `
UPDATE jobs
SET status = 'queued',
    started_at = NULL,
    retry_count = retry_count + 1,
    updated_at = now()
WHERE status = 'processing' AND started_at < $1 AND retry_count < $2;
`
	tag, err := r.pool.Exec(ctx, query, olderThan, maxRetries)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListUpdatedSince returns the subset of ids whose rows changed after since.
func (r *JobRepositoryPG) ListUpdatedSince(ctx context.Context, ids []string, since time.Time) ([]domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ANY($1) AND updated_at > $2 ORDER BY updated_at ASC;`
	rows, err := r.pool.Query(ctx, query, ids, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var inputJSON, resultsJSON []byte
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.Config.Provider,
		&job.Config.Model,
		&job.Config.EncryptedCredential,
		&job.Config.PromptTemplate,
		&job.Config.TaskType,
		&inputJSON,
		&resultsJSON,
		&job.Progress,
		&job.ProcessedRows,
		&job.TotalRows,
		&job.RetryCount,
		&job.ErrorMessage,
		&job.StartedAt,
		&job.CompletedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(inputJSON, &job.InputData); err != nil {
		return nil, fmt.Errorf("decode input data: %w", err)
	}
	if err := json.Unmarshal(resultsJSON, &job.Results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

var (
	_ domain.JobRepository = (*JobRepositoryPG)(nil)
	_ domain.JobClaimer    = (*JobRepositoryPG)(nil)
)
