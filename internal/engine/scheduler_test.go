package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"bulkgen/internal/domain"
)

// runnerFunc adapts a function to the JobRunner interface.
type runnerFunc func(ctx context.Context, jobID string) *RunResult

func (f runnerFunc) Run(ctx context.Context, jobID string) *RunResult { return f(ctx, jobID) }

func newTestScheduler(jobs *memJobs, runner JobRunner, cfg SchedulerConfig) *Scheduler {
	return NewScheduler(jobs, jobs, runner, cfg, zerolog.Nop())
}

func queueJobs(jobs *memJobs, ids ...string) {
	for _, id := range ids {
		jobs.add(&domain.Job{
			ID:        id,
			UserID:    "user-1",
			Status:    domain.JobStatusQueued,
			TotalRows: 1,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})
	}
}

func TestSchedulerRunOnceClaimsUpToLimit(t *testing.T) {
	jobs := newMemJobs(true)
	queueJobs(jobs, "a", "b", "c", "d", "e", "f", "g")

	var mu sync.Mutex
	ran := make(map[string]int)
	runner := runnerFunc(func(ctx context.Context, jobID string) *RunResult {
		mu.Lock()
		ran[jobID]++
		mu.Unlock()
		return &RunResult{JobID: jobID, Status: domain.JobStatusCompleted, RowsProcessed: 1, Tokens: 10}
	})

	s := newTestScheduler(jobs, runner, SchedulerConfig{ClaimLimit: 5})
	summary := s.RunOnce(context.Background())

	require.Equal(t, 5, summary.JobsProcessed)
	require.Equal(t, 5, summary.Completed)
	require.Zero(t, summary.Failed)
	require.Equal(t, 5, summary.TotalRowsProcessed)
	require.Equal(t, 50, summary.TotalTokens)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ran, 5)
	for id, n := range ran {
		require.Equal(t, 1, n, "job %s ran more than once", id)
	}
}

func TestSchedulerRunOnceEmptyQueue(t *testing.T) {
	jobs := newMemJobs(true)
	runner := runnerFunc(func(ctx context.Context, jobID string) *RunResult {
		t.Errorf("runner invoked with empty queue: %s", jobID)
		return nil
	})

	s := newTestScheduler(jobs, runner, SchedulerConfig{})
	summary := s.RunOnce(context.Background())
	require.Zero(t, summary.JobsProcessed)
}

func TestSchedulerFallsBackToSingleClaims(t *testing.T) {
	jobs := newMemJobs(false) // bulk claim errors out
	queueJobs(jobs, "a", "b", "c")

	runner := runnerFunc(func(ctx context.Context, jobID string) *RunResult {
		return &RunResult{JobID: jobID, Status: domain.JobStatusCompleted}
	})

	s := newTestScheduler(jobs, runner, SchedulerConfig{ClaimLimit: 5})
	summary := s.RunOnce(context.Background())
	require.Equal(t, 3, summary.JobsProcessed)
	require.Equal(t, 3, summary.Completed)
}

func TestSchedulerOneFailureDoesNotBlockOthers(t *testing.T) {
	jobs := newMemJobs(true)
	queueJobs(jobs, "a", "b", "c")

	runner := runnerFunc(func(ctx context.Context, jobID string) *RunResult {
		if jobID == "b" {
			return &RunResult{JobID: jobID, Status: domain.JobStatusFailed}
		}
		return &RunResult{JobID: jobID, Status: domain.JobStatusCompleted, RowsProcessed: 1}
	})

	s := newTestScheduler(jobs, runner, SchedulerConfig{ClaimLimit: 5})
	summary := s.RunOnce(context.Background())

	require.Equal(t, 3, summary.JobsProcessed)
	require.Equal(t, 2, summary.Completed)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 2, summary.TotalRowsProcessed)
}

func TestSchedulerResetsStaleJobs(t *testing.T) {
	jobs := newMemJobs(true)

	stale := time.Now().Add(-10 * time.Minute)
	jobs.add(&domain.Job{
		ID:         "stuck",
		UserID:     "user-1",
		Status:     domain.JobStatusProcessing,
		StartedAt:  &stale,
		RetryCount: 1,
	})
	fresh := time.Now().Add(-1 * time.Minute)
	jobs.add(&domain.Job{
		ID:        "healthy",
		UserID:    "user-1",
		Status:    domain.JobStatusProcessing,
		StartedAt: &fresh,
	})
	exhausted := time.Now().Add(-10 * time.Minute)
	jobs.add(&domain.Job{
		ID:         "exhausted",
		UserID:     "user-1",
		Status:     domain.JobStatusProcessing,
		StartedAt:  &exhausted,
		RetryCount: 3,
	})

	var mu sync.Mutex
	var ran []string
	runner := runnerFunc(func(ctx context.Context, jobID string) *RunResult {
		mu.Lock()
		ran = append(ran, jobID)
		mu.Unlock()
		return &RunResult{JobID: jobID, Status: domain.JobStatusCompleted}
	})

	s := newTestScheduler(jobs, runner, SchedulerConfig{ClaimLimit: 5, StaleAfter: 5 * time.Minute, MaxJobRetries: 3})
	summary := s.RunOnce(context.Background())

	require.Equal(t, 1, summary.StaleJobsReset, "only the stuck job under the retry ceiling is requeued")
	require.Equal(t, []string{"stuck"}, ran, "the requeued job is claimed in the same tick")
	require.Equal(t, 2, jobs.get("stuck").RetryCount)
	require.Equal(t, domain.JobStatusProcessing, jobs.get("healthy").Status)
	require.Equal(t, domain.JobStatusProcessing, jobs.get("exhausted").Status, "jobs over the retry ceiling are left for inspection")
}

func TestSchedulerConcurrentTicksClaimEachJobOnce(t *testing.T) {
	jobs := newMemJobs(true)
	queueJobs(jobs, "a", "b", "c", "d", "e", "f")

	var mu sync.Mutex
	ran := make(map[string]int)
	runner := runnerFunc(func(ctx context.Context, jobID string) *RunResult {
		mu.Lock()
		ran[jobID]++
		mu.Unlock()
		return &RunResult{JobID: jobID, Status: domain.JobStatusCompleted}
	})

	s := newTestScheduler(jobs, runner, SchedulerConfig{ClaimLimit: 3})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunOnce(context.Background())
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ran, 6, "every queued job runs")
	for id, n := range ran {
		require.Equal(t, 1, n, "job %s claimed by more than one tick", id)
	}
}
