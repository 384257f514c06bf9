// Package api exposes the hint and discover flows over HTTP.
//
// Every endpoint speaks JSON except /transcribe-discover, which takes a
// multipart upload. Errors are returned as {"error": "..."} with a status
// chosen by [StatusFor].
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/cluekeeper/internal/agent"
	"github.com/MrWong99/cluekeeper/internal/app"
	"github.com/MrWong99/cluekeeper/internal/discovery"
	"github.com/MrWong99/cluekeeper/internal/observe"
	"github.com/MrWong99/cluekeeper/internal/resident"
)

// MissingFieldsError reports required request fields that were absent or
// empty, in the order the endpoint documents them.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Handler serves the game endpoints of one [app.App].
type Handler struct {
	app *app.App
}

// NewHandler creates a Handler over a.
func NewHandler(a *app.App) *Handler {
	return &Handler{app: a}
}

// RegisterRoutes registers the game routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/hint", h.Hint)
	r.Get("/hint/history", h.HintHistory)
	r.Post("/discover", h.Discover)
	r.Get("/discover/status", h.DiscoverStatus)
	r.Get("/discover/history", h.DiscoverHistory)
	r.Delete("/discover", h.ResetDiscover)
	r.Post("/transcribe-discover", h.TranscribeDiscover)
}

// NewRouter returns the complete HTTP surface: game routes behind the
// observability middleware, health probes and the Prometheus scrape
// endpoint.
func NewRouter(a *app.App) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	a.Health().Register(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(observe.Middleware(a.Metrics()))
		NewHandler(a).RegisterRoutes(r)
	})
	return r
}

// ── Responses ────────────────────────────────────────────────────────────────

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error from the agents or providers to an HTTP status.
func StatusFor(err error) int {
	var missing *MissingFieldsError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &missing):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, resident.ErrModelLoadFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, discovery.ErrDisclosureParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, agent.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrNoCatalog),
		errors.Is(err, agent.ErrEmptyQuestion),
		errors.Is(err, agent.ErrEmptyActionName),
		errors.Is(err, agent.ErrInvalidScenario):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// fail logs err and writes it with the status from [StatusFor].
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Info("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	Error(w, status, err.Error())
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
