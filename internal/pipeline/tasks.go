package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paperdex/paperdex/internal/metadata"
	"github.com/paperdex/paperdex/internal/paper"
	"github.com/paperdex/paperdex/internal/runs"
	"github.com/paperdex/paperdex/internal/store"
	"github.com/paperdex/paperdex/pkg/config"
	"github.com/paperdex/paperdex/pkg/metrics"
	"github.com/paperdex/paperdex/pkg/tracing"
)

// BatchProcessor runs one descriptor batch. Satisfied by *Executor.
type BatchProcessor interface {
	Run(ctx context.Context, runID string, descriptors []paper.Descriptor, sink OutcomeSink) ([]paper.Outcome, error)
}

// DocumentIndexer upserts one document into the search index. Satisfied by
// *elastic.Client.
type DocumentIndexer interface {
	Upsert(ctx context.Context, doc paper.SearchDocument) error
}

// RunLog records run lifecycle and outcomes. Satisfied by *runs.Store.
type RunLog interface {
	CreateRun(ctx context.Context, query string) (runs.Run, error)
	FinishRun(ctx context.Context, runID string, summary paper.Summary, runErr error) error
	RecordOutcomes(ctx context.Context, runID string, outcomes []paper.Outcome) error
}

// TasksDeps carries the collaborators Tasks composes.
type TasksDeps struct {
	Source   metadata.Source
	Executor BatchProcessor
	Store    store.Store
	Index    DocumentIndexer
	RunLog   RunLog
	Ingest   config.IngestConfig
	Metadata config.MetadataConfig
	Metrics  *metrics.Metrics
}

// Tasks bundles the pipeline stages: FetchMetadata, FilterNew, ProcessBatch,
// and IndexAll are each idempotent and safe to re-invoke on their own; Run
// composes them and records the run.
type Tasks struct {
	source   metadata.Source
	filter   *Filter
	executor BatchProcessor
	store    store.Store
	index    DocumentIndexer
	runLog   RunLog
	ingest   config.IngestConfig
	meta     config.MetadataConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewTasks(d TasksDeps) *Tasks {
	return &Tasks{
		source:   d.Source,
		filter:   NewFilter(d.Store),
		executor: d.Executor,
		store:    d.Store,
		index:    d.Index,
		runLog:   d.RunLog,
		ingest:   d.Ingest,
		meta:     d.Metadata,
		metrics:  d.Metrics,
		logger:   slog.Default().With("component", "pipeline-tasks"),
	}
}

// FetchMetadata queries the metadata source for ingestion candidates.
func (t *Tasks) FetchMetadata(ctx context.Context, query string, maxResults int) ([]paper.Descriptor, error) {
	ctx, span := tracing.StartChildSpan(ctx, "fetch-metadata")
	defer span.End()

	descriptors, err := t.source.Fetch(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	span.SetAttr("descriptors", len(descriptors))
	return descriptors, nil
}

// FilterNew drops descriptors whose papers are already stored.
func (t *Tasks) FilterNew(ctx context.Context, descriptors []paper.Descriptor) ([]paper.Descriptor, error) {
	ctx, span := tracing.StartChildSpan(ctx, "filter-new")
	defer span.End()

	fresh, err := t.filter.Filter(ctx, descriptors)
	if err != nil {
		return nil, err
	}
	span.SetAttr("new", len(fresh))
	return fresh, nil
}

// ProcessBatch runs the executor over the batch, streaming each outcome to
// sink as its item completes.
func (t *Tasks) ProcessBatch(ctx context.Context, runID string, descriptors []paper.Descriptor, sink OutcomeSink) ([]paper.Outcome, error) {
	ctx, span := tracing.StartChildSpan(ctx, "process-batch")
	defer span.End()

	outcomes, err := t.executor.Run(ctx, runID, descriptors, sink)
	if err != nil {
		return nil, err
	}
	summary := paper.Summarize(outcomes)
	span.SetAttr("successful", summary.Successful)
	span.SetAttr("failed", summary.Failed)
	return outcomes, nil
}

// IndexAll re-reads the whole store and upserts every document into the
// search index. Upserts overwrite by external ID, so this reconciles the
// index with the store no matter how stale it was, including papers whose
// ingest event never reached the indexer. Per-document failures are counted,
// not fatal.
func (t *Tasks) IndexAll(ctx context.Context) (indexed, failed int64, err error) {
	ctx, span := tracing.StartChildSpan(ctx, "index-all")
	defer span.End()

	docs, err := t.store.All(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("reading store for reindex: %w", err)
	}

	workers := t.ingest.Concurrency
	if workers <= 0 {
		workers = defaultWorkers
	}
	var ok, failures atomic.Int64
	var g errgroup.Group
	g.SetLimit(workers)
	for _, doc := range docs {
		g.Go(func() error {
			if upErr := t.index.Upsert(ctx, doc.SearchDoc()); upErr != nil {
				failures.Add(1)
				t.logger.Warn("reindex upsert failed",
					"external_id", doc.ExternalID,
					"error", upErr,
				)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	indexed, failed = ok.Load(), failures.Load()
	span.SetAttr("indexed", indexed)
	span.SetAttr("failed", failed)
	t.logger.Info("index reconciled", "indexed", indexed, "failed", failed)
	return indexed, failed, nil
}

// Run executes one full pipeline run and records it. An empty query or
// non-positive maxResults falls back to the configured defaults.
func (t *Tasks) Run(ctx context.Context, query string, maxResults int) (runs.Run, error) {
	query, maxResults = t.applyDefaults(query, maxResults)
	start := time.Now()

	run, err := t.runLog.CreateRun(ctx, query)
	if err != nil {
		return runs.Run{}, fmt.Errorf("creating run: %w", err)
	}
	return t.execute(ctx, run, maxResults, start)
}

// StartRun creates the run row and executes the pipeline in the background,
// returning the still-running row immediately so the caller can poll it.
// Execution gets its own context: the admin request that triggered the run
// ending must not cancel the run.
func (t *Tasks) StartRun(ctx context.Context, query string, maxResults int) (runs.Run, error) {
	query, maxResults = t.applyDefaults(query, maxResults)
	start := time.Now()

	run, err := t.runLog.CreateRun(ctx, query)
	if err != nil {
		return runs.Run{}, fmt.Errorf("creating run: %w", err)
	}
	go func() {
		if _, err := t.execute(context.Background(), run, maxResults, start); err != nil {
			t.logger.Error("background run failed", "run_id", run.ID, "error", err)
		}
	}()
	return run, nil
}

func (t *Tasks) applyDefaults(query string, maxResults int) (string, int) {
	if query == "" {
		query = t.meta.Query
	}
	if maxResults <= 0 {
		maxResults = t.meta.MaxResults
	}
	return query, maxResults
}

func (t *Tasks) execute(ctx context.Context, run runs.Run, maxResults int, start time.Time) (runs.Run, error) {
	query := run.Query
	ctx, span := tracing.StartSpan(ctx, "ingest-run", run.ID)
	span.SetAttr("query", query)
	defer func() {
		span.End()
		span.Log()
	}()
	t.logger.Info("run started", "run_id", run.ID, "query", query, "max_results", maxResults)

	summary, runErr := t.runStages(ctx, run.ID, query, maxResults)

	status := runs.StatusCompleted
	if runErr != nil {
		status = runs.StatusFailed
		run.Error = runErr.Error()
	}
	if t.metrics != nil {
		t.metrics.IngestBatchDuration.Observe(time.Since(start).Seconds())
		t.metrics.IngestRunsTotal.WithLabelValues(status).Inc()
	}

	// Record the final state even when the run context is already dead.
	finishCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finishCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := t.runLog.FinishRun(finishCtx, run.ID, summary, runErr); err != nil {
		t.logger.Error("finishing run failed", "run_id", run.ID, "error", err)
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Total = summary.Total
	run.Successful = summary.Successful
	run.Failed = summary.Failed
	run.Status = status
	t.logger.Info("run finished",
		"run_id", run.ID,
		"status", status,
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"duration", time.Since(start),
	)
	return run, runErr
}

func (t *Tasks) runStages(ctx context.Context, runID, query string, maxResults int) (paper.Summary, error) {
	descriptors, err := t.FetchMetadata(ctx, query, maxResults)
	if err != nil {
		return paper.Summary{}, fmt.Errorf("fetch metadata stage: %w", err)
	}
	fresh, err := t.FilterNew(ctx, descriptors)
	if err != nil {
		return paper.Summary{}, fmt.Errorf("filter stage: %w", err)
	}

	// The recorder lives on its own context so a dying run context cannot
	// cut off the final outcome flush.
	recorder := runs.NewRecorder(t.runLog, runID, 0, 0)
	recCtx, stopRecorder := context.WithCancel(context.Background())
	recorder.Start(recCtx)
	outcomes, err := t.ProcessBatch(ctx, runID, fresh, recorder)
	stopRecorder()
	recorder.Close()
	if err != nil {
		return paper.Summary{}, fmt.Errorf("process stage: %w", err)
	}

	summary := paper.Summarize(outcomes)
	if len(summary.FailedIDs) > 0 {
		t.logger.Warn("papers failed this run", "run_id", runID, "failed_ids", summary.FailedIDs)
	}

	if _, _, err := t.IndexAll(ctx); err != nil {
		return summary, fmt.Errorf("index stage: %w", err)
	}
	return summary, nil
}
