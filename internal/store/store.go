// Package store is the durable record of ingested papers. Every write is an
// upsert keyed on the external ID, so re-ingesting a paper updates the
// existing row instead of duplicating it.
package store

import (
	"context"
	"time"

	"github.com/paperdex/paperdex/internal/paper"
)

// Store is the relational-store contract used by the pipeline, the indexer,
// and the search API.
type Store interface {
	// Upsert inserts the document or updates the row with the same external
	// ID. The original created-at survives updates; indexed-at is cleared so
	// changed content gets re-indexed.
	Upsert(ctx context.Context, doc paper.Document) error
	// FindByExternalID returns the stored document or an error wrapping
	// errors.ErrPaperNotFound.
	FindByExternalID(ctx context.Context, externalID string) (paper.Document, error)
	// ExistingIDs reports which of the given external IDs are already stored.
	ExistingIDs(ctx context.Context, externalIDs []string) (map[string]bool, error)
	// All returns every stored document, ordered by external ID.
	All(ctx context.Context) ([]paper.Document, error)
	Count(ctx context.Context) (int64, error)
	MarkIndexed(ctx context.Context, externalID string, at time.Time) error
	// Ping verifies the store is reachable. The pipeline executor calls it
	// before a batch; failure aborts the batch as a precondition violation.
	Ping(ctx context.Context) error
}
