package fetch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/paperdex/paperdex/pkg/config"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
	"github.com/paperdex/paperdex/pkg/metrics"
	"github.com/paperdex/paperdex/pkg/resilience"
)

const defaultMaxConcurrent = 5

// Status classifies how a fetch concluded.
type Status string

const (
	StatusHit        Status = "hit"
	StatusDownloaded Status = "downloaded"
	StatusFailed     Status = "failed"
)

// Result reports a single payload fetch.
type Result struct {
	Status Status
	Path   string
	Bytes  int64
}

// Fetcher downloads payloads into a PayloadStore. All fetches share one
// weighted semaphore so a large batch never opens more than the
// configured number of upstream connections; an optional rate limiter
// additionally paces request starts to be polite to the host.
type Fetcher struct {
	store   *PayloadStore
	client  *http.Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewFetcher builds a fetcher from the ingest configuration. m may be
// nil when no metrics are recorded (tests, one-shot tools).
func NewFetcher(store *PayloadStore, cfg config.IngestConfig, m *metrics.Metrics) *Fetcher {
	maxConcurrent := cfg.Concurrency
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	var limiter *rate.Limiter
	if cfg.Fetch.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Fetch.RatePerSecond), 1)
	}

	return &Fetcher{
		store:   store,
		client:  &http.Client{Timeout: cfg.Fetch.Timeout},
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		limiter: limiter,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Fetch.MaxAttempts,
			InitialDelay: cfg.Fetch.InitialBackoff,
			MaxDelay:     cfg.Fetch.MaxBackoff,
			Multiplier:   2.0,
			Retryable:    apperrors.IsTransient,
		},
		metrics: m,
		logger:  slog.Default().With("component", "fetcher"),
	}
}

// Fetch downloads the payload for externalID from rawURL, unless it is
// already on disk. 4xx responses fail the item immediately; 5xx,
// timeouts, and connection errors are retried on the configured backoff
// schedule before the item is given up on.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, externalID string) (Result, error) {
	dest := f.store.Path(externalID)

	if ok, size := f.store.Exists(externalID); ok {
		f.logger.Debug("payload already on disk", "external_id", externalID, "bytes", size)
		f.countFetch(StatusHit)
		return Result{Status: StatusHit, Path: dest, Bytes: size}, nil
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		f.countFetch(StatusFailed)
		return Result{Status: StatusFailed}, apperrors.Transient(err, "waiting for fetch slot for %s", externalID)
	}
	defer f.sem.Release(1)

	start := time.Now()
	var (
		bytes    int64
		attempts int
	)
	err := resilience.Retry(ctx, "payload-fetch", f.retry, func() error {
		attempts++
		if attempts > 1 && f.metrics != nil {
			f.metrics.PayloadFetchRetriesTotal.Inc()
		}
		n, attemptErr := f.attempt(ctx, rawURL, externalID)
		if attemptErr != nil {
			return attemptErr
		}
		bytes = n
		return nil
	})
	if err != nil {
		f.countFetch(StatusFailed)
		f.logger.Warn("payload fetch failed", "external_id", externalID, "url", rawURL, "error", err)
		return Result{Status: StatusFailed}, err
	}

	if f.metrics != nil {
		f.metrics.PayloadFetchDuration.Observe(time.Since(start).Seconds())
	}
	f.countFetch(StatusDownloaded)
	f.logger.Info("payload downloaded", "external_id", externalID, "bytes", bytes)
	return Result{Status: StatusDownloaded, Path: dest, Bytes: bytes}, nil
}

// attempt performs one HTTP GET and classifies its failure mode.
func (f *Fetcher) attempt(ctx context.Context, rawURL, externalID string) (int64, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, apperrors.Transient(err, "rate limiter interrupted for %s", externalID)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, apperrors.Permanent(err, "building request for %s", rawURL)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return 0, apperrors.Transient(apperrors.ErrTimeout, "fetching %s: %v", rawURL, err)
		}
		return 0, apperrors.Transient(err, "fetching %s", rawURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return f.store.WriteAtomic(externalID, resp.Body)
	case resp.StatusCode >= 500:
		return 0, apperrors.Transient(nil, "upstream returned %d for %s", resp.StatusCode, rawURL)
	default:
		return 0, apperrors.Permanent(nil, "upstream returned %d for %s", resp.StatusCode, rawURL)
	}
}

func (f *Fetcher) countFetch(s Status) {
	if f.metrics != nil {
		f.metrics.PayloadFetchesTotal.WithLabelValues(string(s)).Inc()
	}
}
