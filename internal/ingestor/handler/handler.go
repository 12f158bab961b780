// Package handler exposes the ingest service's admin HTTP API for
// triggering pipeline runs and inspecting their history.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/paperdex/paperdex/internal/runs"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
	"github.com/paperdex/paperdex/pkg/logger"
)

// RunStarter triggers a pipeline run in the background. *pipeline.Tasks
// satisfies it.
type RunStarter interface {
	StartRun(ctx context.Context, query string, maxResults int) (runs.Run, error)
}

// RunReader reads run history. *runs.Store satisfies it.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (runs.Run, error)
	RecentRuns(ctx context.Context, limit int) ([]runs.Run, error)
}

// TriggerRequest is the optional body of POST /api/v1/runs. Zero values
// fall back to the configured defaults.
type TriggerRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type Handler struct {
	tasks  RunStarter
	runs   RunReader
	logger *slog.Logger
}

func New(tasks RunStarter, runReader RunReader) *Handler {
	return &Handler{
		tasks:  tasks,
		runs:   runReader,
		logger: slog.Default().With("component", "ingest-handler"),
	}
}

// Register attaches the admin routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", h.TriggerRun)
	mux.HandleFunc("GET /api/v1/runs/recent", h.RecentRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.GetRun)
}

// TriggerRun starts a pipeline run and answers 202 with the created run
// row. The run keeps going after the response; poll GET /api/v1/runs/{id}
// for its outcome.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, apperrors.Permanent(apperrors.ErrInvalidInput, "invalid JSON body"))
		return
	}
	if req.MaxResults < 0 {
		h.writeError(w, apperrors.Permanent(apperrors.ErrInvalidInput, "max_results must not be negative"))
		return
	}

	run, err := h.tasks.StartRun(ctx, req.Query, req.MaxResults)
	if err != nil {
		log.Error("triggering run failed", "error", err)
		h.writeError(w, err)
		return
	}
	log.Info("run triggered", "run_id", run.ID, "query", run.Query)
	h.writeJSON(w, http.StatusAccepted, run)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("id")

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		logger.FromContext(ctx).Warn("run lookup failed", "run_id", runID, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *Handler) RecentRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.Permanent(apperrors.ErrInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	recent, err := h.runs.RecentRuns(ctx, limit)
	if err != nil {
		logger.FromContext(ctx).Error("listing recent runs failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"runs":  recent,
		"count": len(recent),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": err.Error()})
}
