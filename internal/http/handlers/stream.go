package handlers

import (
	"net/http"
	"strings"

	"bulkgen/internal/middleware"
	"bulkgen/internal/stream"
)

const maxStreamJobs = 20

// StreamJobs opens a one-way SSE channel carrying progress events for the
// requested job ids until all of them reach a terminal state.
func (a *App) StreamJobs(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		a.error(w, http.StatusBadRequest, "ids query parameter is required")
		return
	}
	if len(ids) > maxStreamJobs {
		a.error(w, http.StatusBadRequest, "too many job ids")
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if err := a.Publisher.Stream(r.Context(), sse, userID, ids); err != nil {
		// The subscriber is usually gone at this point; nothing else to do.
		a.Logger.Debug().Err(err).Msg("handlers: stream closed with error")
	}
}
