// Package handler exposes the search service's HTTP API: query execution
// with result caching, paper lookup by external ID, recent ingest runs, and
// cache administration.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paperdex/paperdex/internal/paper"
	"github.com/paperdex/paperdex/internal/runs"
	"github.com/paperdex/paperdex/internal/searcher/cache"
	"github.com/paperdex/paperdex/internal/searcher/executor"
	"github.com/paperdex/paperdex/pkg/config"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
	"github.com/paperdex/paperdex/pkg/logger"
	"github.com/paperdex/paperdex/pkg/metrics"
)

// SearchExecutor executes a query against the index. *executor.Executor
// satisfies it.
type SearchExecutor interface {
	Execute(ctx context.Context, query string, limit int) (*executor.SearchResult, error)
}

// PaperFinder looks up stored documents. store.Store satisfies it.
type PaperFinder interface {
	FindByExternalID(ctx context.Context, externalID string) (paper.Document, error)
}

// RunLister reads ingest-run history. *runs.Store satisfies it.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]runs.Run, error)
}

// Handler serves the search API. cache may be nil (caching disabled) and
// metrics may be nil; both paths degrade quietly.
type Handler struct {
	executor     SearchExecutor
	cache        *cache.QueryCache
	papers       PaperFinder
	runs         RunLister
	defaultLimit int
	maxLimit     int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func New(exec SearchExecutor, queryCache *cache.QueryCache, papers PaperFinder, runLister RunLister, cfg config.SearcherConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		executor:     exec,
		cache:        queryCache,
		papers:       papers,
		runs:         runLister,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		metrics:      m,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Register attaches every API route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/papers/{id}", h.GetPaper)
	mux.HandleFunc("GET /api/v1/runs/recent", h.RecentRuns)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.writeError(w, apperrors.Permanent(apperrors.ErrInvalidInput, "query parameter 'q' is required"))
		return
	}
	limit, err := h.parseLimit(r, h.defaultLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var (
		result   *executor.SearchResult
		cacheHit bool
	)
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, query, limit, func() (*executor.SearchResult, error) {
			return h.executor.Execute(ctx, query, limit)
		})
	} else {
		result, err = h.executor.Execute(ctx, query, limit)
	}
	if err != nil {
		log.Error("search execution failed", "query", query, "error", err)
		h.countQuery("error")
		h.writeError(w, err)
		return
	}

	if result.TotalHits > 0 {
		h.countQuery("hit")
	} else {
		h.countQuery("zero_result")
	}
	h.observeLatency(cacheHit, time.Since(start))

	log.Info("search completed",
		"query", query,
		"total_hits", result.TotalHits,
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

// GetPaper returns the full stored document, payload path and extracted
// sections included. Search results carry only the index projection; this
// is the detail view.
func (h *Handler) GetPaper(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	externalID := r.PathValue("id")
	if externalID == "" {
		h.writeError(w, apperrors.Permanent(apperrors.ErrInvalidInput, "paper id is required"))
		return
	}

	doc, err := h.papers.FindByExternalID(ctx, externalID)
	if err != nil {
		logger.FromContext(ctx).Warn("paper lookup failed", "external_id", externalID, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) RecentRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := h.parseLimit(r, 0)
	if err != nil {
		h.writeError(w, err)
		return
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

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.Transient(nil, "caching is disabled"))
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, apperrors.Internal(err, "cache invalidation failed"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// parseLimit reads the optional limit query parameter, falling back to
// fallback when absent and clamping to the configured maximum.
func (h *Handler) parseLimit(r *http.Request, fallback int) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed < 1 {
		return 0, apperrors.Permanent(apperrors.ErrInvalidInput, "limit must be a positive integer")
	}
	if parsed > h.maxLimit {
		parsed = h.maxLimit
	}
	return parsed, nil
}

func (h *Handler) countQuery(resultType string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func (h *Handler) observeLatency(cacheHit bool, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	status := "miss"
	if cacheHit {
		status = "hit"
	}
	h.metrics.SearchLatency.WithLabelValues(status).Observe(elapsed.Seconds())
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
