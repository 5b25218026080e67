package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bulkgen/internal/domain"
	"bulkgen/internal/providers"
)

// CredentialDecrypter recovers a provider credential stored encrypted on the
// job row.
type CredentialDecrypter interface {
	Decrypt(token string) (string, error)
}

// InvokerResolver turns a job's provider selection into a callable invoker.
type InvokerResolver interface {
	Resolve(provider, model, credential string) (providers.ModelInvoker, error)
}

// RunResult summarizes one executor run for the scheduler's aggregation.
type RunResult struct {
	JobID         string
	Status        domain.JobStatus
	RowsProcessed int
	Tokens        int
}

// Executor runs the full lifecycle of a single claimed job: decrypt the
// credential, loop over batches, checkpoint progress after each one, honor
// cancellation between batches, and finalize the job status.
type Executor struct {
	jobs      domain.JobRepository
	batch     *BatchProcessor
	resolver  InvokerResolver
	cipher    CredentialDecrypter
	usage     domain.UsageRecorder
	batchSize int
	logger    zerolog.Logger
}

func NewExecutor(jobs domain.JobRepository, batch *BatchProcessor, resolver InvokerResolver, cipher CredentialDecrypter, usage domain.UsageRecorder, batchSize int, logger zerolog.Logger) *Executor {
	if batchSize <= 0 {
		batchSize = 12
	}
	return &Executor{
		jobs:      jobs,
		batch:     batch,
		resolver:  resolver,
		cipher:    cipher,
		usage:     usage,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run processes one claimed job to a terminal state (or leaves it cancelled
// as found). Partial results persisted before a failure are never lost.
func (e *Executor) Run(ctx context.Context, jobID string) *RunResult {
	result := &RunResult{JobID: jobID, Status: domain.JobStatusFailed}
	log := e.logger.With().Str("job_id", jobID).Logger()

	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Msg("executor: load job failed")
		e.failJob(ctx, jobID, fmt.Errorf("load job: %w", err))
		return result
	}

	credential, err := e.cipher.Decrypt(job.Config.EncryptedCredential)
	if err != nil {
		log.Error().Err(err).Msg("executor: credential decryption failed")
		e.failJob(ctx, jobID, fmt.Errorf("%w: %v", domain.ErrBadCredential, err))
		return result
	}

	invoker, err := e.resolver.Resolve(job.Config.Provider, job.Config.Model, credential)
	if err != nil {
		log.Error().Err(err).Str("provider", job.Config.Provider).Msg("executor: provider resolution failed")
		e.failJob(ctx, jobID, err)
		return result
	}

	instructions := SystemInstructions(job.Config.TaskType, job.Config.PromptTemplate)
	pending := job.PendingRows()
	chunks := Partition(pending, e.batchSize)

	processed := job.ProcessedRows
	var usage TokenUsage

	log.Info().
		Int("pending_rows", len(pending)).
		Int("batches", len(chunks)).
		Int("resume_from", processed).
		Msg("executor: started")

	for _, chunk := range chunks {
		status, err := e.jobs.GetStatus(ctx, jobID)
		if err != nil {
			e.failJob(ctx, jobID, fmt.Errorf("status check: %w", err))
			result.RowsProcessed = processed - job.ProcessedRows
			result.Tokens = usage.Total()
			return result
		}
		if status == domain.JobStatusCancelled {
			// Leave the row exactly as-is: cancelled, partial results retained.
			log.Info().Int("processed_rows", processed).Msg("executor: job cancelled, stopping")
			result.Status = domain.JobStatusCancelled
			result.RowsProcessed = processed - job.ProcessedRows
			result.Tokens = usage.Total()
			return result
		}

		batchResults, batchUsage := e.batch.ProcessChunk(ctx, invoker, job.Config.Model, instructions, chunk)
		usage.Input += batchUsage.Input
		usage.Output += batchUsage.Output
		processed += len(batchResults)
		progress := domain.ProgressPercent(processed, job.TotalRows)

		if err := e.jobs.AppendResults(ctx, jobID, batchResults, processed, progress); err != nil {
			e.failJob(ctx, jobID, fmt.Errorf("persist batch: %w", err))
			result.RowsProcessed = processed - job.ProcessedRows - len(batchResults)
			result.Tokens = usage.Total()
			return result
		}
	}

	if err := e.jobs.MarkCompleted(ctx, jobID); err != nil {
		result.RowsProcessed = processed - job.ProcessedRows
		result.Tokens = usage.Total()
		if errors.Is(err, domain.ErrJobFinished) {
			// A cancel landed while the final batch was in flight; the
			// conditional write left the row alone.
			log.Info().Int("processed_rows", processed).Msg("executor: job cancelled during final batch")
			result.Status = domain.JobStatusCancelled
			return result
		}
		log.Error().Err(err).Msg("executor: mark completed failed")
		return result
	}

	e.recordUsage(job, processed, usage)

	log.Info().Int("rows", processed).Int("tokens", usage.Total()).Msg("executor: completed")
	result.Status = domain.JobStatusCompleted
	result.RowsProcessed = processed - job.ProcessedRows
	result.Tokens = usage.Total()
	return result
}

func (e *Executor) failJob(ctx context.Context, jobID string, cause error) {
	if err := e.jobs.MarkFailed(ctx, jobID, cause.Error()); err != nil && !errors.Is(err, domain.ErrJobFinished) {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("executor: mark failed failed")
	}
}

// recordUsage emits the billing record without tying the job outcome to it.
func (e *Executor) recordUsage(job *domain.Job, rows int, usage TokenUsage) {
	rec := &domain.UsageRecord{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		UserID:        job.UserID,
		RowsProcessed: rows,
		InputTokens:   usage.Input,
		OutputTokens:  usage.Output,
		EstimatedCost: providers.EstimateCost(job.Config.Model, usage.Input, usage.Output),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.usage.Record(ctx, rec); err != nil {
			e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("executor: usage record failed")
		}
	}()
}
