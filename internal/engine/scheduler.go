package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bulkgen/internal/domain"
)

// JobRunner executes one claimed job. Satisfied by *Executor.
type JobRunner interface {
	Run(ctx context.Context, jobID string) *RunResult
}

// SchedulerConfig bounds a scheduler tick.
type SchedulerConfig struct {
	ClaimLimit    int
	StaleAfter    time.Duration
	MaxJobRetries int
}

// Scheduler recovers stale jobs, claims a bounded number of queued jobs, and
// runs their executors concurrently. It never claims by reading-then-writing
// status itself; atomicity is delegated to the store's claim primitives.
type Scheduler struct {
	jobs    domain.JobRepository
	claimer domain.JobClaimer
	runner  JobRunner
	cfg     SchedulerConfig
	logger  zerolog.Logger
	now     func() time.Time
}

func NewScheduler(jobs domain.JobRepository, claimer domain.JobClaimer, runner JobRunner, cfg SchedulerConfig, logger zerolog.Logger) *Scheduler {
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 5
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.MaxJobRetries <= 0 {
		cfg.MaxJobRetries = 3
	}
	return &Scheduler{
		jobs:    jobs,
		claimer: claimer,
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// RunOnce performs a single scheduler tick: stale recovery, claim, concurrent
// execution, aggregation. A failure in one executor never blocks the others.
func (s *Scheduler) RunOnce(ctx context.Context) domain.SchedulerSummary {
	start := s.now()
	var summary domain.SchedulerSummary

	reset, err := s.jobs.ResetStale(ctx, start.Add(-s.cfg.StaleAfter), s.cfg.MaxJobRetries)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduler: stale recovery failed")
	} else if reset > 0 {
		s.logger.Info().Int64("jobs", reset).Msg("scheduler: requeued stale jobs")
	}
	summary.StaleJobsReset = int(reset)

	jobIDs := s.claimJobs(ctx)
	summary.JobsProcessed = len(jobIDs)
	if len(jobIDs) == 0 {
		summary.Elapsed = s.now().Sub(start)
		return summary
	}

	results := make([]*RunResult, len(jobIDs))
	var wg sync.WaitGroup
	for i, jobID := range jobIDs {
		wg.Add(1)
		go func(i int, jobID string) {
			defer wg.Done()
			results[i] = s.runner.Run(ctx, jobID)
		}(i, jobID)
	}
	wg.Wait()

	for _, r := range results {
		if r == nil {
			continue
		}
		switch r.Status {
		case domain.JobStatusCompleted:
			summary.Completed++
		case domain.JobStatusFailed:
			summary.Failed++
		}
		summary.TotalRowsProcessed += r.RowsProcessed
		summary.TotalTokens += r.Tokens
	}
	summary.Elapsed = s.now().Sub(start)

	s.logger.Info().
		Int("jobs", summary.JobsProcessed).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("rows", summary.TotalRowsProcessed).
		Int("tokens", summary.TotalTokens).
		Int("stale_reset", summary.StaleJobsReset).
		Dur("elapsed", summary.Elapsed).
		Msg("scheduler: tick done")
	return summary
}

// claimJobs prefers the bulk claim primitive and falls back to repeated
// single claims when the store does not support it.
func (s *Scheduler) claimJobs(ctx context.Context) []string {
	ids, err := s.claimer.ClaimNextJobs(ctx, s.cfg.ClaimLimit)
	if err == nil {
		return ids
	}
	s.logger.Warn().Err(err).Msg("scheduler: bulk claim unavailable, falling back to single claims")

	var claimed []string
	for len(claimed) < s.cfg.ClaimLimit {
		id, err := s.claimer.ClaimNextJob(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNoJobAvailable) {
				s.logger.Error().Err(err).Msg("scheduler: claim failed")
			}
			break
		}
		claimed = append(claimed, id)
	}
	return claimed
}
