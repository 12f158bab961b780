// Package consumer is the incremental indexing path: it reads paper-ingested
// events from Kafka, re-reads the stored document, and upserts it into the
// search index. The batch IndexAll reconciliation covers anything this path
// misses, so the consumer can afford to skip events it cannot act on.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paperdex/paperdex/internal/paper"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
	"github.com/paperdex/paperdex/pkg/kafka"
	"github.com/paperdex/paperdex/pkg/metrics"
)

// PaperStore is the slice of the relational store the consumer needs.
// store.Store satisfies it.
type PaperStore interface {
	FindByExternalID(ctx context.Context, externalID string) (paper.Document, error)
	MarkIndexed(ctx context.Context, externalID string, at time.Time) error
}

// DocumentIndexer writes documents into the search index. *elastic.Client
// satisfies it.
type DocumentIndexer interface {
	Upsert(ctx context.Context, doc paper.SearchDocument) error
}

// HandleIngested returns the Kafka handler that indexes one ingested paper
// per event. Returning an error leaves the offset uncommitted so the event
// is redelivered; the index upsert is idempotent, so replay is safe.
// Undecodable events and events whose paper no longer exists are logged and
// acknowledged, since redelivery cannot fix either.
func HandleIngested(st PaperStore, index DocumentIndexer, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[paper.IngestedEvent](value)
		if err != nil {
			logger.Error("dropping undecodable ingest event", "key", string(key), "error", err)
			countEvent(m, "error")
			return nil
		}

		doc, err := st.FindByExternalID(ctx, event.ExternalID)
		if err != nil {
			if errors.Is(err, apperrors.ErrPaperNotFound) {
				logger.Warn("ingest event references a missing paper, skipping",
					"external_id", event.ExternalID,
					"run_id", event.RunID,
				)
				countEvent(m, "skipped")
				return nil
			}
			countEvent(m, "error")
			return fmt.Errorf("reading paper %s: %w", event.ExternalID, err)
		}

		if err := index.Upsert(ctx, doc.SearchDoc()); err != nil {
			countEvent(m, "error")
			return fmt.Errorf("indexing paper %s: %w", event.ExternalID, err)
		}

		if err := st.MarkIndexed(ctx, event.ExternalID, time.Now().UTC()); err != nil {
			// The paper can vanish between the read and the mark; anything
			// else is worth a redelivery so the mark eventually lands.
			if errors.Is(err, apperrors.ErrPaperNotFound) {
				logger.Warn("paper disappeared before indexed mark", "external_id", event.ExternalID)
				countEvent(m, "skipped")
				return nil
			}
			countEvent(m, "error")
			return fmt.Errorf("marking paper %s indexed: %w", event.ExternalID, err)
		}

		logger.Info("paper indexed",
			"external_id", event.ExternalID,
			"run_id", event.RunID,
		)
		countEvent(m, "ok")
		return nil
	}
}

func countEvent(m *metrics.Metrics, status string) {
	if m != nil {
		m.EventsConsumedTotal.WithLabelValues(status).Inc()
	}
}
