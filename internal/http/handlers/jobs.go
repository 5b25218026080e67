package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bulkgen/internal/domain"
	"bulkgen/internal/middleware"
)

const maxInputRows = 10000

type createJobRequest struct {
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
	Credential     string   `json:"credential"`
	PromptTemplate string   `json:"prompt_template"`
	TaskType       string   `json:"task_type"`
	Inputs         []string `json:"inputs"`
}

type jobResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Provider      string     `json:"provider"`
	Model         string     `json:"model"`
	TaskType      string     `json:"task_type,omitempty"`
	Progress      int        `json:"progress"`
	ProcessedRows int        `json:"processed_rows"`
	TotalRows     int        `json:"total_rows"`
	RetryCount    int        `json:"retry_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:            job.ID,
		Status:        string(job.Status),
		Provider:      job.Config.Provider,
		Model:         job.Config.Model,
		TaskType:      job.Config.TaskType,
		Progress:      job.Progress,
		ProcessedRows: job.ProcessedRows,
		TotalRows:     job.TotalRows,
		RetryCount:    job.RetryCount,
		ErrorMessage:  job.ErrorMessage,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		CreatedAt:     job.CreatedAt,
	}
}

// CreateJob validates a submission, encrypts the credential at rest, and
// enqueues the job. The worker picks it up on its next tick.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Provider = strings.TrimSpace(req.Provider)
	req.Model = strings.TrimSpace(req.Model)
	switch {
	case req.Provider == "":
		a.error(w, http.StatusBadRequest, "provider is required")
		return
	case req.Model == "":
		a.error(w, http.StatusBadRequest, "model is required")
		return
	case strings.TrimSpace(req.Credential) == "":
		a.error(w, http.StatusBadRequest, "credential is required")
		return
	case len(req.Inputs) == 0:
		a.error(w, http.StatusBadRequest, "inputs are required")
		return
	case len(req.Inputs) > maxInputRows:
		a.error(w, http.StatusBadRequest, "too many input rows")
		return
	}

	rows := make([]domain.InputRow, 0, len(req.Inputs))
	for i, input := range req.Inputs {
		if strings.TrimSpace(input) == "" {
			a.error(w, http.StatusBadRequest, "inputs must not be empty")
			return
		}
		rows = append(rows, domain.InputRow{Index: i, Input: input})
	}

	encrypted, err := a.Cipher.Encrypt(req.Credential)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: credential encryption failed")
		a.error(w, http.StatusInternalServerError, "internal error")
		return
	}

	job := &domain.Job{
		ID:     uuid.NewString(),
		UserID: userID,
		Status: domain.JobStatusQueued,
		Config: domain.JobConfig{
			Provider:            req.Provider,
			Model:               req.Model,
			EncryptedCredential: encrypted,
			PromptTemplate:      req.PromptTemplate,
			TaskType:            req.TaskType,
		},
		InputData: rows,
		TotalRows: len(rows),
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: create job failed")
		a.error(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.json(w, http.StatusCreated, map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"total_rows": job.TotalRows,
	})
}

// ListJobs returns the caller's jobs, newest first.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	jobs, err := a.Jobs.ListByUser(r.Context(), userID, 50)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: list jobs failed")
		a.error(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": out})
}

// GetJob returns one job owned by the caller.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

// GetJobResults returns the accumulated per-row results, partial or final.
func (a *App) GetJobResults(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	results := job.Results
	if results == nil {
		results = []domain.RowResult{}
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":             job.ID,
		"status":         job.Status,
		"processed_rows": job.ProcessedRows,
		"total_rows":     job.TotalRows,
		"results":        results,
	})
}

// CancelJob requests cooperative cancellation. The executor observes it
// between batches; partial results stay readable.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	jobID := chi.URLParam(r, "id")
	err := a.Jobs.Cancel(r.Context(), jobID, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrJobNotCancelled):
		a.error(w, http.StatusConflict, "job already finished")
	case err != nil:
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: cancel failed")
		a.error(w, http.StatusInternalServerError, "internal error")
	default:
		a.json(w, http.StatusOK, map[string]string{"id": jobID, "status": string(domain.JobStatusCancelled)})
	}
}

func (a *App) ownedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "job not found")
		} else {
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: get job failed")
			a.error(w, http.StatusInternalServerError, "internal error")
		}
		return nil, false
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}
