package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"bulkgen/internal/domain"
	"bulkgen/internal/infra"
	"bulkgen/internal/middleware"
)

// fakeJobs implements domain.JobRepository with function fields so each test
// overrides only what it touches.
type fakeJobs struct {
	create           func(ctx context.Context, job *domain.Job) error
	getByID          func(ctx context.Context, jobID string) (*domain.Job, error)
	getStatus        func(ctx context.Context, jobID string) (domain.JobStatus, error)
	listByUser       func(ctx context.Context, userID string, limit int) ([]domain.Job, error)
	appendResults    func(ctx context.Context, jobID string, results []domain.RowResult, processedRows, progress int) error
	markCompleted    func(ctx context.Context, jobID string) error
	markFailed       func(ctx context.Context, jobID, errMsg string) error
	cancel           func(ctx context.Context, jobID, userID string) error
	resetStale       func(ctx context.Context, olderThan time.Time, maxRetries int) (int64, error)
	listUpdatedSince func(ctx context.Context, ids []string, since time.Time) ([]domain.Job, error)
}

var errFakeUnused = errors.New("fake method not configured")

func (f *fakeJobs) Create(ctx context.Context, job *domain.Job) error {
	if f.create != nil {
		return f.create(ctx, job)
	}
	return errFakeUnused
}

func (f *fakeJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if f.getByID != nil {
		return f.getByID(ctx, jobID)
	}
	return nil, errFakeUnused
}

func (f *fakeJobs) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	if f.getStatus != nil {
		return f.getStatus(ctx, jobID)
	}
	return "", errFakeUnused
}

func (f *fakeJobs) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	if f.listByUser != nil {
		return f.listByUser(ctx, userID, limit)
	}
	return nil, errFakeUnused
}

func (f *fakeJobs) AppendResults(ctx context.Context, jobID string, results []domain.RowResult, processedRows, progress int) error {
	if f.appendResults != nil {
		return f.appendResults(ctx, jobID, results, processedRows, progress)
	}
	return errFakeUnused
}

func (f *fakeJobs) MarkCompleted(ctx context.Context, jobID string) error {
	if f.markCompleted != nil {
		return f.markCompleted(ctx, jobID)
	}
	return errFakeUnused
}

func (f *fakeJobs) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	if f.markFailed != nil {
		return f.markFailed(ctx, jobID, errMsg)
	}
	return errFakeUnused
}

func (f *fakeJobs) Cancel(ctx context.Context, jobID, userID string) error {
	if f.cancel != nil {
		return f.cancel(ctx, jobID, userID)
	}
	return errFakeUnused
}

func (f *fakeJobs) ResetStale(ctx context.Context, olderThan time.Time, maxRetries int) (int64, error) {
	if f.resetStale != nil {
		return f.resetStale(ctx, olderThan, maxRetries)
	}
	return 0, errFakeUnused
}

func (f *fakeJobs) ListUpdatedSince(ctx context.Context, ids []string, since time.Time) ([]domain.Job, error) {
	if f.listUpdatedSince != nil {
		return f.listUpdatedSince(ctx, ids, since)
	}
	return nil, errFakeUnused
}

var _ domain.JobRepository = (*fakeJobs)(nil)

func newTestApp(t *testing.T, jobs domain.JobRepository) *App {
	t.Helper()
	cipher, err := infra.NewCredentialCipher("handlers-test-secret")
	if err != nil {
		t.Fatalf("NewCredentialCipher: %v", err)
	}
	return NewApp(zerolog.Nop(), jobs, cipher, nil)
}

func authedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(middleware.ContextWithUserID(req.Context(), "user-1"))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateJob(t *testing.T) {
	var created *domain.Job
	app := newTestApp(t, &fakeJobs{
		create: func(ctx context.Context, job *domain.Job) error {
			created = job
			return nil
		},
	})

	body, _ := json.Marshal(map[string]any{
		"provider":        "openai",
		"model":           "gpt-4o-mini",
		"credential":      "sk-live-abc",
		"prompt_template": "Summarize: {{input}}",
		"task_type":       "summarize",
		"inputs":          []string{"first", "second", "third"},
	})
	rec := httptest.NewRecorder()
	app.CreateJob(rec, authedRequest(http.MethodPost, "/v1/jobs", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if created == nil {
		t.Fatal("job was not persisted")
	}
	if created.UserID != "user-1" {
		t.Fatalf("UserID = %q", created.UserID)
	}
	if created.Status != domain.JobStatusQueued {
		t.Fatalf("Status = %q, want queued", created.Status)
	}
	if created.TotalRows != 3 || len(created.InputData) != 3 {
		t.Fatalf("TotalRows = %d, rows = %d", created.TotalRows, len(created.InputData))
	}
	for i, row := range created.InputData {
		if row.Index != i {
			t.Fatalf("row %d has index %d", i, row.Index)
		}
	}
	if created.Config.EncryptedCredential == "" || created.Config.EncryptedCredential == "sk-live-abc" {
		t.Fatal("credential must be stored encrypted")
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != created.ID {
		t.Fatalf("response id = %v", resp["id"])
	}
}

func TestCreateJobValidation(t *testing.T) {
	app := newTestApp(t, &fakeJobs{})

	valid := map[string]any{
		"provider":   "openai",
		"model":      "gpt-4o-mini",
		"credential": "sk-live-abc",
		"inputs":     []string{"one"},
	}
	mutate := func(overrides map[string]any) []byte {
		payload := make(map[string]any, len(valid))
		for k, v := range valid {
			payload[k] = v
		}
		for k, v := range overrides {
			payload[k] = v
		}
		body, _ := json.Marshal(payload)
		return body
	}

	tooMany := make([]string, 10001)
	for i := range tooMany {
		tooMany[i] = "x"
	}

	tests := []struct {
		name string
		body []byte
	}{
		{name: "malformed json", body: []byte("{")},
		{name: "missing provider", body: mutate(map[string]any{"provider": ""})},
		{name: "missing model", body: mutate(map[string]any{"model": " "})},
		{name: "missing credential", body: mutate(map[string]any{"credential": ""})},
		{name: "no inputs", body: mutate(map[string]any{"inputs": []string{}})},
		{name: "blank input row", body: mutate(map[string]any{"inputs": []string{"ok", "  "}})},
		{name: "too many rows", body: mutate(map[string]any{"inputs": tooMany})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.CreateJob(rec, authedRequest(http.MethodPost, "/v1/jobs", tc.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreateJobRequiresUser(t *testing.T) {
	app := newTestApp(t, &fakeJobs{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader([]byte("{}")))
	app.CreateJob(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetJobOwnership(t *testing.T) {
	stored := &domain.Job{
		ID:     "job-1",
		UserID: "user-2",
		Status: domain.JobStatusProcessing,
	}
	app := newTestApp(t, &fakeJobs{
		getByID: func(ctx context.Context, jobID string) (*domain.Job, error) {
			if jobID == "job-1" {
				cp := *stored
				return &cp, nil
			}
			return nil, domain.ErrNotFound
		},
	})

	// Someone else's job reads as not found.
	rec := httptest.NewRecorder()
	app.GetJob(rec, withURLParam(authedRequest(http.MethodGet, "/v1/jobs/job-1", nil), "id", "job-1"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign job status = %d, want 404", rec.Code)
	}

	// Unknown id is the same 404.
	rec = httptest.NewRecorder()
	app.GetJob(rec, withURLParam(authedRequest(http.MethodGet, "/v1/jobs/nope", nil), "id", "nope"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", rec.Code)
	}

	// The owner sees it.
	stored.UserID = "user-1"
	rec = httptest.NewRecorder()
	app.GetJob(rec, withURLParam(authedRequest(http.MethodGet, "/v1/jobs/job-1", nil), "id", "job-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("owner status = %d, want 200", rec.Code)
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "job-1" || resp.Status != "processing" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestGetJobResultsPartial(t *testing.T) {
	app := newTestApp(t, &fakeJobs{
		getByID: func(ctx context.Context, jobID string) (*domain.Job, error) {
			return &domain.Job{
				ID:            "job-1",
				UserID:        "user-1",
				Status:        domain.JobStatusProcessing,
				ProcessedRows: 2,
				TotalRows:     5,
				Results: []domain.RowResult{
					{Index: 0, Input: "a", Output: "A"},
					{Index: 1, Input: "b", Output: "B", Cached: true},
				},
			}, nil
		},
	})

	rec := httptest.NewRecorder()
	app.GetJobResults(rec, withURLParam(authedRequest(http.MethodGet, "/v1/jobs/job-1/results", nil), "id", "job-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Status        string             `json:"status"`
		ProcessedRows int                `json:"processed_rows"`
		TotalRows     int                `json:"total_rows"`
		Results       []domain.RowResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "processing" || resp.ProcessedRows != 2 || resp.TotalRows != 5 {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Results) != 2 || !resp.Results[1].Cached {
		t.Fatalf("results = %+v", resp.Results)
	}
}

func TestCancelJobStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "ok", err: nil, want: http.StatusOK},
		{name: "not found", err: domain.ErrNotFound, want: http.StatusNotFound},
		{name: "already finished", err: domain.ErrJobNotCancelled, want: http.StatusConflict},
		{name: "store failure", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t, &fakeJobs{
				cancel: func(ctx context.Context, jobID, userID string) error {
					if userID != "user-1" {
						t.Errorf("cancel called with user %q", userID)
					}
					return tc.err
				},
			})
			rec := httptest.NewRecorder()
			app.CancelJob(rec, withURLParam(authedRequest(http.MethodPost, "/v1/jobs/job-1/cancel", nil), "id", "job-1"))
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestListJobs(t *testing.T) {
	app := newTestApp(t, &fakeJobs{
		listByUser: func(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
			if userID != "user-1" {
				t.Errorf("listByUser called with %q", userID)
			}
			return []domain.Job{
				{ID: "job-2", UserID: userID, Status: domain.JobStatusQueued},
				{ID: "job-1", UserID: userID, Status: domain.JobStatusCompleted},
			}, nil
		},
	})

	rec := httptest.NewRecorder()
	app.ListJobs(rec, authedRequest(http.MethodGet, "/v1/jobs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Jobs []jobResponse `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Jobs) != 2 || resp.Jobs[0].ID != "job-2" {
		t.Fatalf("jobs = %+v", resp.Jobs)
	}
}
