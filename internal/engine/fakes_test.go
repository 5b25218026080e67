package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"bulkgen/internal/domain"
	"bulkgen/internal/providers"
)

// memCacheRepo is an in-memory domain.CacheRepository.
type memCacheRepo struct {
	mu      sync.Mutex
	entries map[string]*domain.CacheEntry
	touches int
	putErr  error
	getErr  error
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{entries: make(map[string]*domain.CacheEntry)}
}

func (m *memCacheRepo) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	entry, ok := m.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *memCacheRepo) Put(ctx context.Context, entry *domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	cp := *entry
	m.entries[entry.Key] = &cp
	return nil
}

func (m *memCacheRepo) Touch(ctx context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[key]; ok {
		entry.HitCount++
		t := at
		entry.LastHitAt = &t
	}
	m.touches++
	return nil
}

func (m *memCacheRepo) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memCacheRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for key, entry := range m.entries {
		if entry.Expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *memCacheRepo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// stubInvoker delegates to a function field.
type stubInvoker struct {
	invoke func(ctx context.Context, system, user string) (*providers.Reply, error)
	mu     sync.Mutex
	calls  int
}

func (s *stubInvoker) Invoke(ctx context.Context, system, user string) (*providers.Reply, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.invoke != nil {
		return s.invoke(ctx, system, user)
	}
	return nil, errors.New("invoke not implemented")
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type resolverFunc func(provider, model, credential string) (providers.ModelInvoker, error)

func (f resolverFunc) Resolve(provider, model, credential string) (providers.ModelInvoker, error) {
	return f(provider, model, credential)
}

// plainCipher returns tokens as-is and fails on a marker value.
type plainCipher struct{}

func (plainCipher) Decrypt(token string) (string, error) {
	if token == "corrupted" {
		return "", errors.New("cipher: message authentication failed")
	}
	return token, nil
}

// memUsage collects usage records.
type memUsage struct {
	mu      sync.Mutex
	records []*domain.UsageRecord
}

func (m *memUsage) Record(ctx context.Context, rec *domain.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// memJobs is an in-memory domain.JobRepository plus domain.JobClaimer,
// simulating the store's claim atomicity with a mutex.
type memJobs struct {
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	bulkClaimOK bool
	order       []string
}

func newMemJobs(bulkClaimOK bool) *memJobs {
	return &memJobs{jobs: make(map[string]*domain.Job), bulkClaimOK: bulkClaimOK}
}

func (m *memJobs) add(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneJob(job)
	m.jobs[job.ID] = cp
	m.order = append(m.order, job.ID)
}

func (m *memJobs) get(id string) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneJob(m.jobs[id])
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	cp := *job
	cp.InputData = append([]domain.InputRow(nil), job.InputData...)
	cp.Results = append([]domain.RowResult(nil), job.Results...)
	return &cp
}

func (m *memJobs) Create(ctx context.Context, job *domain.Job) error {
	m.add(job)
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *memJobs) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return job.Status, nil
}

func (m *memJobs) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, id := range m.order {
		if job := m.jobs[id]; job.UserID == userID {
			out = append(out, *cloneJob(job))
		}
	}
	return out, nil
}

func (m *memJobs) AppendResults(ctx context.Context, jobID string, results []domain.RowResult, processedRows, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Results = append(job.Results, results...)
	job.ProcessedRows = processedRows
	job.Progress = progress
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memJobs) MarkCompleted(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return domain.ErrJobFinished
	}
	now := time.Now()
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (m *memJobs) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrJobFinished
	}
	now := time.Now()
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = errMsg
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (m *memJobs) Cancel(ctx context.Context, jobID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.UserID != userID {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrJobNotCancelled
	}
	now := time.Now()
	job.Status = domain.JobStatusCancelled
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (m *memJobs) ResetStale(ctx context.Context, olderThan time.Time, maxRetries int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reset int64
	for _, job := range m.jobs {
		if job.Status != domain.JobStatusProcessing || job.StartedAt == nil {
			continue
		}
		if job.StartedAt.Before(olderThan) && job.RetryCount < maxRetries {
			job.Status = domain.JobStatusQueued
			job.StartedAt = nil
			job.RetryCount++
			job.UpdatedAt = time.Now()
			reset++
		}
	}
	return reset, nil
}

func (m *memJobs) ListUpdatedSince(ctx context.Context, ids []string, since time.Time) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, id := range ids {
		if job, ok := m.jobs[id]; ok && job.UpdatedAt.After(since) {
			out = append(out, *cloneJob(job))
		}
	}
	return out, nil
}

func (m *memJobs) ClaimNextJob(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		job := m.jobs[id]
		if job.Status == domain.JobStatusQueued {
			now := time.Now()
			job.Status = domain.JobStatusProcessing
			job.StartedAt = &now
			job.UpdatedAt = now
			return id, nil
		}
	}
	return "", domain.ErrNoJobAvailable
}

func (m *memJobs) ClaimNextJobs(ctx context.Context, limit int) ([]string, error) {
	if !m.bulkClaimOK {
		return nil, errors.New("bulk claim unsupported")
	}
	var ids []string
	for len(ids) < limit {
		id, err := m.ClaimNextJob(ctx)
		if err != nil {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var (
	_ domain.JobRepository   = (*memJobs)(nil)
	_ domain.JobClaimer      = (*memJobs)(nil)
	_ domain.CacheRepository = (*memCacheRepo)(nil)
	_ domain.UsageRecorder   = (*memUsage)(nil)
)
