package pipeline

import (
	"context"
	"log/slog"

	"github.com/paperdex/paperdex/internal/paper"
	"github.com/paperdex/paperdex/internal/store"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
)

// Filter drops descriptors whose papers are already stored.
type Filter struct {
	store  store.Store
	logger *slog.Logger
}

func NewFilter(st store.Store) *Filter {
	return &Filter{
		store:  st,
		logger: slog.Default().With("component", "idempotency-filter"),
	}
}

// Filter returns the descriptors not yet present in the store, preserving
// input order. A store lookup failure propagates as an error; treating the
// whole batch as new would re-ingest everything on the next run.
func (f *Filter) Filter(ctx context.Context, descriptors []paper.Descriptor) ([]paper.Descriptor, error) {
	if len(descriptors) == 0 {
		return nil, nil
	}
	ids := make([]string, len(descriptors))
	for i, d := range descriptors {
		ids[i] = d.ExternalID
	}
	existing, err := f.store.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Precondition(apperrors.ErrStoreUnavailable, "checking existing papers: %v", err)
	}

	fresh := make([]paper.Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if !existing[d.ExternalID] {
			fresh = append(fresh, d)
		}
	}
	f.logger.Info("idempotency filter applied",
		"candidates", len(descriptors),
		"new", len(fresh),
		"already_stored", len(descriptors)-len(fresh),
	)
	return fresh, nil
}
