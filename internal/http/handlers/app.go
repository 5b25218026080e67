package handlers

import (
	"encoding/json"
	"net/http"

	"bulkgen/internal/domain"
	"bulkgen/internal/infra"
	"bulkgen/internal/stream"
)

// App bundles the dependencies the HTTP handlers share.
type App struct {
	Logger    infra.Logger
	Jobs      domain.JobRepository
	Cipher    *infra.CredentialCipher
	Publisher *stream.Publisher
}

func NewApp(logger infra.Logger, jobs domain.JobRepository, cipher *infra.CredentialCipher, publisher *stream.Publisher) *App {
	return &App{Logger: logger, Jobs: jobs, Cipher: cipher, Publisher: publisher}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}
