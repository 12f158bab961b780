// Package benchmark holds micro and component benchmarks for the hot
// paths: batch execution, outcome recording, extraction, and the query
// cache.
//
// Run with:
//
//	go test -bench=. -benchmem ./test/benchmark/...
package benchmark

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/paperdex/paperdex/internal/fetch"
	"github.com/paperdex/paperdex/internal/paper"
	"github.com/paperdex/paperdex/internal/pipeline"
	"github.com/paperdex/paperdex/internal/runs"
	"github.com/paperdex/paperdex/internal/store"
	"github.com/paperdex/paperdex/pkg/config"
	"github.com/paperdex/paperdex/pkg/logger"
)

// TestMain quiets component logging; per-iteration Info lines would drown
// the benchmark output.
func TestMain(m *testing.M) {
	logger.Setup(config.LoggingConfig{Level: "error", Format: "text"})
	os.Exit(m.Run())
}

// instantFetcher pretends every payload is already on disk, so the
// benchmark measures pool and persistence overhead, not network time.
type instantFetcher struct{}

func (instantFetcher) Fetch(_ context.Context, _, externalID string) (fetch.Result, error) {
	return fetch.Result{Status: fetch.StatusHit, Path: externalID + ".pdf", Bytes: 1024}, nil
}

type instantExtractor struct{}

func (instantExtractor) Extract(string) paper.ParsedContent {
	return paper.ParsedContent{FullText: "benchmark body text"}
}

func benchDescriptors(n int) []paper.Descriptor {
	ds := make([]paper.Descriptor, n)
	for i := range ds {
		ds[i] = paper.Descriptor{
			ExternalID: fmt.Sprintf("2403.%05d", i),
			Title:      fmt.Sprintf("Benchmark Paper %d", i),
			Summary:    "a short abstract",
			PayloadURL: "http://localhost/pdf",
		}
	}
	return ds
}

// BenchmarkExecutorBatch measures batch throughput across worker counts.
// Fetch and extraction are instant, so the numbers isolate scheduling and
// store contention.
func BenchmarkExecutorBatch(b *testing.B) {
	workerCounts := []int{1, 4, 8}
	descriptors := benchDescriptors(250)

	for _, workers := range workerCounts {
		b.Run(fmt.Sprintf("workers_%d", workers), func(b *testing.B) {
			exec := pipeline.NewExecutor(instantFetcher{}, instantExtractor{}, store.NewMemory(), nil, workers, nil)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				outcomes, err := exec.Run(context.Background(), "bench", descriptors, nil)
				if err != nil {
					b.Fatal(err)
				}
				_ = outcomes
			}
		})
	}
}

// nullWriter discards outcome batches.
type nullWriter struct{}

func (nullWriter) RecordOutcomes(context.Context, string, []paper.Outcome) error { return nil }

// BenchmarkRecorderAdd measures the per-outcome cost of the batching
// recorder, including the in-band flushes it triggers every batchSize.
func BenchmarkRecorderAdd(b *testing.B) {
	rec := runs.NewRecorder(nullWriter{}, "bench", 100, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)
	defer func() {
		cancel()
		rec.Close()
	}()

	outcome := paper.Outcome{ExternalID: "2403.00001", Succeeded: true, PayloadDownloaded: true}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec.Add(outcome)
	}
}

// BenchmarkSummarize measures run summary aggregation for different batch
// sizes.
func BenchmarkSummarize(b *testing.B) {
	sizes := []int{100, 1000, 10000}
	for _, n := range sizes {
		b.Run(fmt.Sprintf("outcomes_%d", n), func(b *testing.B) {
			outcomes := make([]paper.Outcome, n)
			for i := range outcomes {
				outcomes[i] = paper.Outcome{
					ExternalID: fmt.Sprintf("2403.%05d", i),
					Succeeded:  i%10 != 0,
				}
				if !outcomes[i].Succeeded {
					outcomes[i].Error = "fetch failed"
				}
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				summary := paper.Summarize(outcomes)
				_ = summary
			}
		})
	}
}
