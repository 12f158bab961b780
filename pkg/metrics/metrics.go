// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	IngestRunsTotal       *prometheus.CounterVec
	PapersIngestedTotal   *prometheus.CounterVec
	IngestBatchDuration   prometheus.Histogram
	PipelineWorkersActive prometheus.Gauge

	PayloadFetchesTotal      *prometheus.CounterVec
	PayloadFetchDuration     prometheus.Histogram
	PayloadFetchRetriesTotal prometheus.Counter

	ExtractionsTotal *prometheus.CounterVec

	IndexOpsTotal *prometheus.CounterVec

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	EventsPublishedTotal *prometheus.CounterVec
	EventsConsumedTotal  *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		IngestRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Total pipeline runs by final status (completed, failed).",
			},
			[]string{"status"},
		),
		PapersIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papers_ingested_total",
				Help: "Per-paper pipeline outcomes (succeeded, failed).",
			},
			[]string{"status"},
		),
		IngestBatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_batch_duration_seconds",
				Help:    "Wall time of one pipeline batch.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		PipelineWorkersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_workers_active",
				Help: "Descriptor pipelines currently in flight.",
			},
		),
		PayloadFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payload_fetches_total",
				Help: "Payload fetches by result (hit, downloaded, failed).",
			},
			[]string{"result"},
		),
		PayloadFetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payload_fetch_duration_seconds",
				Help:    "Payload download latency in seconds, cache hits excluded.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		PayloadFetchRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "payload_fetch_retries_total",
				Help: "Retried payload download attempts.",
			},
		),
		ExtractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractions_total",
				Help: "Structure extractions by winning parser (pdf, plaintext, none).",
			},
			[]string{"parser"},
		),
		IndexOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_operations_total",
				Help: "Search-index operations by op and status.",
			},
			[]string{"op", "status"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Kafka events published by status.",
			},
			[]string{"status"},
		),
		EventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_consumed_total",
				Help: "Kafka events consumed by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.IngestRunsTotal,
		m.PapersIngestedTotal,
		m.IngestBatchDuration,
		m.PipelineWorkersActive,
		m.PayloadFetchesTotal,
		m.PayloadFetchDuration,
		m.PayloadFetchRetriesTotal,
		m.ExtractionsTotal,
		m.IndexOpsTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EventsPublishedTotal,
		m.EventsConsumedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
