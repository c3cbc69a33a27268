// Package api serves read-only run status over HTTP: run history, the dead
// letter queue, checkpoint counts and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/metrics"
	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/resilience"
	"github.com/sells-group/deal-enrich/internal/store"
)

// Handler serves the status endpoints from a store.
type Handler struct {
	store store.Store
}

// NewRouter builds the HTTP routes. allowedOrigins configures CORS; empty
// allows any origin.
func NewRouter(st store.Store, allowedOrigins []string) http.Handler {
	h := &Handler{store: st}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{id}", h.GetRun)
	r.Get("/dlq", h.ListDLQ)
	r.Get("/checkpoints/{source}", h.Checkpoints)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// Health reports whether the store passes its integrity check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.CheckIntegrity(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListRuns lists runs, newest first. Query: status, source, limit, offset.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	runs, err := h.store.ListRuns(r.Context(), store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Source: q.Get("source"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.internal(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun returns one run.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListDLQ lists dead letter entries. Query: source, error_type, limit.
func (h *Handler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	entries, err := h.store.ListDLQ(r.Context(), resilience.DLQFilter{
		Source:    q.Get("source"),
		ErrorType: q.Get("error_type"),
		Limit:     limit,
	})
	if err != nil {
		h.internal(w, r, err)
		return
	}
	if entries == nil {
		entries = []resilience.DLQEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// checkpointStatus is the body of GET /checkpoints/{source}.
type checkpointStatus struct {
	Source    string                  `json:"source"`
	Completed int                     `json:"completed"`
	Entries   []model.CheckpointEntry `json:"entries,omitempty"`
}

// Checkpoints returns the completed ids for a source. Entries are included
// with ?entries=true.
func (h *Handler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	entries, err := h.store.LoadCheckpoints(r.Context(), source)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	body := checkpointStatus{Source: source, Completed: len(entries)}
	if r.URL.Query().Get("entries") == "true" {
		body.Entries = entries
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
