package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"bulkgen/internal/http/handlers"
	"bulkgen/internal/infra"
	"bulkgen/internal/middleware"
)

// NewRouter wires the API surface: health, job CRUD, and the SSE stream.
func NewRouter(app *handlers.App, cfg *infra.Config) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/", app.CreateJob)
		r.Get("/", app.ListJobs)
		r.Get("/stream", app.StreamJobs)
		r.Get("/{id}", app.GetJob)
		r.Get("/{id}/results", app.GetJobResults)
		r.Post("/{id}/cancel", app.CancelJob)
	})

	return r
}
