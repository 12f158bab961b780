// Package pipeline runs the ingestion flow: fetch metadata, filter out
// already-stored papers, process new ones under a bounded worker pool, and
// reconcile the search index. Stages are discrete functions, each safe to
// re-invoke, so a failed run can simply be run again.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paperdex/paperdex/internal/fetch"
	"github.com/paperdex/paperdex/internal/paper"
	"github.com/paperdex/paperdex/internal/store"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
	"github.com/paperdex/paperdex/pkg/kafka"
	"github.com/paperdex/paperdex/pkg/metrics"
)

const defaultWorkers = 5

// PayloadFetcher downloads one payload into the local payload store.
// Satisfied by *fetch.Fetcher.
type PayloadFetcher interface {
	Fetch(ctx context.Context, rawURL, externalID string) (fetch.Result, error)
}

// Extractor parses a fetched payload. Satisfied by *extract.Chain.
type Extractor interface {
	Extract(path string) paper.ParsedContent
}

// Publisher announces persisted papers to the indexer. Satisfied by
// *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// OutcomeSink receives each outcome as its item completes. Satisfied by
// *runs.Recorder.
type OutcomeSink interface {
	Add(o paper.Outcome)
}

// Executor processes descriptor batches with a fixed pool of workers.
type Executor struct {
	fetcher   PayloadFetcher
	extractor Extractor
	store     store.Store
	publisher Publisher
	workers   int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewExecutor(fetcher PayloadFetcher, extractor Extractor, st store.Store, publisher Publisher, workers int, m *metrics.Metrics) *Executor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Executor{
		fetcher:   fetcher,
		extractor: extractor,
		store:     st,
		publisher: publisher,
		workers:   workers,
		metrics:   m,
		logger:    slog.Default().With("component", "pipeline-executor"),
	}
}

// Run processes every descriptor and returns one outcome per input, in input
// order. One item's failure never touches its siblings; the only fatal error
// is an unreachable store at batch start, which would fail every item for
// the same reason.
func (e *Executor) Run(ctx context.Context, runID string, descriptors []paper.Descriptor, sink OutcomeSink) ([]paper.Outcome, error) {
	if len(descriptors) == 0 {
		return []paper.Outcome{}, nil
	}
	if err := e.store.Ping(ctx); err != nil {
		return nil, apperrors.Precondition(apperrors.ErrStoreUnavailable, "pre-flight store ping: %v", err)
	}

	outcomes := make([]paper.Outcome, len(descriptors))
	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if e.metrics != nil {
					e.metrics.PipelineWorkersActive.Inc()
				}
				outcomes[i] = e.processOne(ctx, runID, descriptors[i])
				if e.metrics != nil {
					e.metrics.PipelineWorkersActive.Dec()
					e.metrics.PapersIngestedTotal.WithLabelValues(outcomeLabel(outcomes[i])).Inc()
				}
				if sink != nil {
					sink.Add(outcomes[i])
				}
			}
		}()
	}
	// Feed every index even when ctx is cancelled: workers drain the channel
	// regardless, and cancelled items fail fast inside processOne, keeping
	// the outcome slice positionally complete.
	for i := range descriptors {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	summary := paper.Summarize(outcomes)
	e.logger.Info("batch processed",
		"run_id", runID,
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
	)
	return outcomes, nil
}

// processOne runs one descriptor through fetch, extract, persist, and
// publish. Extraction cannot fail the item (the degraded empty content is
// still persisted); the event publish cannot either, since the paper is
// already durable and the next index reconciliation will pick it up.
func (e *Executor) processOne(ctx context.Context, runID string, d paper.Descriptor) paper.Outcome {
	outcome := paper.Outcome{ExternalID: d.ExternalID}

	res, err := e.fetcher.Fetch(ctx, d.PayloadURL, d.ExternalID)
	if err != nil {
		e.logger.Warn("payload fetch failed",
			"external_id", d.ExternalID,
			"url", d.PayloadURL,
			"error", err,
		)
		outcome.Error = err.Error()
		return outcome
	}
	outcome.PayloadDownloaded = true

	content := e.extractor.Extract(res.Path)

	doc := paper.Document{
		ExternalID:  d.ExternalID,
		Title:       d.Title,
		Summary:     d.Summary,
		Authors:     d.Authors,
		Categories:  d.Categories,
		PayloadPath: res.Path,
		FullText:    content.FullText,
		Sections:    content.Sections,
		PublishedAt: d.PublishedAt,
	}
	if err := e.store.Upsert(ctx, doc); err != nil {
		e.logger.Error("persisting paper failed",
			"external_id", d.ExternalID,
			"error", err,
		)
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Succeeded = true
	e.publishIngested(ctx, runID, d.ExternalID)
	return outcome
}

func (e *Executor) publishIngested(ctx context.Context, runID, externalID string) {
	if e.publisher == nil {
		return
	}
	event := kafka.Event{
		Key: externalID,
		Value: paper.IngestedEvent{
			ExternalID: externalID,
			RunID:      runID,
			IngestedAt: time.Now().UTC(),
		},
	}
	err := e.publisher.Publish(ctx, event)
	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.EventsPublishedTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		e.logger.Error("ingest event publish failed, paper persisted but not announced",
			"external_id", externalID,
			"error", err,
		)
	}
}

func outcomeLabel(o paper.Outcome) string {
	if o.Succeeded {
		return "succeeded"
	}
	return "failed"
}
