// Package httptransport is the thin HTTP layer over the pipeline. It
// delegates to domain services without embedding business logic so transport
// concerns remain isolated.
package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dErrors "changegate/pkg/domain-errors"
)

// NewRouter wires the pipeline's entire public surface: run, sod detection,
// audit query, exception listing and reviewer justification. Justification mutates
// compliance state and sits behind reviewer auth.
func NewRouter(h *Handler, auth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/runs", h.HandleRun)
	r.Post("/sod/runs", h.HandleSodRun)
	r.Get("/audit/{changeID}", h.HandleAuditQuery)
	r.Get("/changes/{changeID}/exceptions", h.HandleListExceptions)

	r.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}
		r.Post("/exceptions/{exceptionID}/justify", h.HandleJustify)
	})

	return r
}

// writeJSON centralizes response encoding.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain errors to HTTP responses with a consistent
// JSON envelope.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	writeJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error": string(code),
	})
}
