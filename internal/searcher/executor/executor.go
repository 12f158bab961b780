// Package executor runs user queries against the search index and shapes
// the results the API returns.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/paperdex/paperdex/internal/elastic"
)

// SearchResult is one executed query's answer. The query cache serialises
// this struct as-is, so field changes alter the cached payload format and
// should be paired with a cache invalidation on deploy.
type SearchResult struct {
	Query     string        `json:"query"`
	TotalHits int           `json:"total_hits"`
	Results   []elastic.Hit `json:"results"`
	TookMs    int64         `json:"took_ms"`
}

// IndexSearcher is the slice of the index client the executor needs.
// *elastic.Client satisfies it. The client degrades failures to empty hit
// lists internally, so a broken index surfaces here as zero hits rather
// than an error.
type IndexSearcher interface {
	Search(ctx context.Context, query string, limit int) []elastic.Hit
}

type Executor struct {
	index  IndexSearcher
	logger *slog.Logger
}

func New(index IndexSearcher) *Executor {
	return &Executor{
		index:  index,
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Execute runs the query and returns ranked hits capped at limit.
func (e *Executor) Execute(ctx context.Context, query string, limit int) (*SearchResult, error) {
	start := time.Now()
	hits := e.index.Search(ctx, query, limit)
	took := time.Since(start).Milliseconds()
	if hits == nil {
		hits = []elastic.Hit{}
	}

	e.logger.Info("query executed",
		"query", query,
		"hits", len(hits),
		"took_ms", took,
	)
	return &SearchResult{
		Query:     query,
		TotalHits: len(hits),
		Results:   hits,
		TookMs:    took,
	}, nil
}
