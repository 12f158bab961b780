// Package elastic maintains the papers search index. The client is
// self-healing: every operation first makes sure the index exists with
// the canonical mapping, so a wiped cluster rebuilds its schema on the
// next write instead of erroring until an operator steps in.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/paperdex/paperdex/internal/paper"
	"github.com/paperdex/paperdex/pkg/config"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
	"github.com/paperdex/paperdex/pkg/metrics"
	"github.com/paperdex/paperdex/pkg/resilience"
)

// Hit is one ranked search result. The index stores more fields than
// this; hits carry only the summary projection plus the BM25 score.
type Hit struct {
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Authors     []string  `json:"authors"`
	PublishedAt time.Time `json:"published_at"`
	Score       float64   `json:"score"`
}

// Client wraps the Elasticsearch client for the papers index. breaker
// and m may be nil; the write path typically runs without a breaker
// while the searcher wraps reads so a down cluster fails fast.
type Client struct {
	es      *es.Client
	index   string
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New connects to the cluster, retrying with exponential backoff. A
// cluster that stays unreachable is a precondition failure: callers are
// expected to treat it as fatal.
func New(ctx context.Context, cfg config.ElasticConfig, breaker *resilience.CircuitBreaker, m *metrics.Metrics) (*Client, error) {
	esClient, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, apperrors.Precondition(err, "building search client")
	}

	c := &Client{
		es:      esClient,
		index:   cfg.Index,
		timeout: cfg.RequestTimeout,
		breaker: breaker,
		metrics: m,
		logger:  slog.Default().With("component", "search-index", "index", cfg.Index),
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 3
	}
	connectRetry := resilience.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
	if err := resilience.Retry(ctx, "search-connect", connectRetry, func() error {
		return c.ping(ctx)
	}); err != nil {
		return nil, apperrors.Precondition(err, "connecting to search cluster")
	}
	return c, nil
}

// Ping checks cluster reachability. Used by health endpoints.
func (c *Client) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

func (c *Client) ping(ctx context.Context) error {
	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return apperrors.Transient(err, "search cluster unreachable")
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperrors.Transient(apperrors.ErrIndexUnavailable, "search cluster returned %s", res.Status())
	}

	var info struct {
		Version struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err == nil && info.Version.Number != "" {
		c.logger.Info("connected to search cluster", "version", info.Version.Number)
	}
	return nil
}

// ensureIndex checks for the index and creates it with the canonical
// mapping when missing. Losing a creation race to a sibling worker is a
// success: the index exists either way.
func (c *Client) ensureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return apperrors.Transient(err, "checking index %s", c.index)
	}
	res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		// fall through to create
	default:
		return apperrors.Transient(nil, "index existence check returned %s", res.Status())
	}

	c.logger.Warn("search index missing, creating it")
	body, err := json.Marshal(papersMapping())
	if err != nil {
		return apperrors.Internal(err, "encoding index mapping")
	}
	createRes, err := c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return apperrors.Transient(err, "creating index %s", c.index)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		msg := createRes.String()
		if strings.Contains(msg, "resource_already_exists_exception") {
			return nil
		}
		return apperrors.Transient(nil, "creating index %s: %s", c.index, msg)
	}
	c.logger.Info("search index created")
	return nil
}

// Upsert writes doc under its external ID, so re-ingesting a paper
// overwrites the previous version instead of duplicating it. The write
// is refreshed: it is searchable when Upsert returns.
func (c *Client) Upsert(ctx context.Context, doc paper.SearchDocument) error {
	if strings.TrimSpace(doc.ExternalID) == "" {
		return apperrors.Permanent(apperrors.ErrInvalidInput, "search document missing external_id")
	}

	err := c.execute(func() error {
		return resilience.WithTimeout(ctx, c.timeout, "index-upsert", func(ctx context.Context) error {
			if err := c.ensureIndex(ctx); err != nil {
				return err
			}
			body, err := json.Marshal(doc)
			if err != nil {
				return apperrors.Internal(err, "encoding search document %s", doc.ExternalID)
			}
			res, err := c.es.Index(
				c.index,
				bytes.NewReader(body),
				c.es.Index.WithContext(ctx),
				c.es.Index.WithDocumentID(doc.ExternalID),
				c.es.Index.WithRefresh("true"),
			)
			if err != nil {
				return apperrors.Transient(err, "indexing %s", doc.ExternalID)
			}
			defer res.Body.Close()
			if res.IsError() {
				return apperrors.Transient(nil, "indexing %s: %s", doc.ExternalID, res.String())
			}
			return nil
		})
	})
	c.countOp("upsert", err)
	if err != nil {
		return err
	}
	c.logger.Debug("document indexed", "external_id", doc.ExternalID)
	return nil
}

// Search runs a BM25 multi_match over full_text, title, and summary and
// returns ranked hits. It never propagates a failure: an unreachable or
// broken index degrades to an empty result list so the read path stays
// up.
func (c *Client) Search(ctx context.Context, query string, limit int) []Hit {
	hits, err := c.search(ctx, query, limit)
	c.countOp("search", err)
	if err != nil {
		c.logger.Error("search degraded to empty results", "query", query, "error", err)
		return []Hit{}
	}
	return hits
}

func (c *Client) search(ctx context.Context, query string, limit int) ([]Hit, error) {
	hits := []Hit{}
	err := c.execute(func() error {
		return resilience.WithTimeout(ctx, c.timeout, "index-search", func(ctx context.Context) error {
			if err := c.ensureIndex(ctx); err != nil {
				return err
			}

			body, err := json.Marshal(map[string]any{
				"size": limit,
				"query": map[string]any{
					"multi_match": map[string]any{
						"query":    query,
						"fields":   []string{"full_text", "title", "summary"},
						"type":     "best_fields",
						"operator": "or",
					},
				},
				"_source": []string{"external_id", "title", "summary", "published_at", "authors"},
			})
			if err != nil {
				return apperrors.Internal(err, "encoding search query")
			}

			res, err := c.es.Search(
				c.es.Search.WithContext(ctx),
				c.es.Search.WithIndex(c.index),
				c.es.Search.WithBody(bytes.NewReader(body)),
			)
			if err != nil {
				return apperrors.Transient(err, "searching %q", query)
			}
			defer res.Body.Close()
			if res.IsError() {
				return apperrors.Transient(nil, "searching %q: %s", query, res.String())
			}

			var parsed struct {
				Hits struct {
					Hits []struct {
						Score  float64         `json:"_score"`
						Source json.RawMessage `json:"_source"`
					} `json:"hits"`
				} `json:"hits"`
			}
			if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
				return apperrors.Internal(err, "decoding search response")
			}

			for _, h := range parsed.Hits.Hits {
				var hit Hit
				if err := json.Unmarshal(h.Source, &hit); err != nil {
					continue
				}
				hit.Score = h.Score
				hits = append(hits, hit)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// Count returns the number of indexed documents, degrading to 0 on any
// failure.
func (c *Client) Count(ctx context.Context) int64 {
	var count int64
	err := c.execute(func() error {
		return resilience.WithTimeout(ctx, c.timeout, "index-count", func(ctx context.Context) error {
			if err := c.ensureIndex(ctx); err != nil {
				return err
			}
			res, err := c.es.Count(
				c.es.Count.WithContext(ctx),
				c.es.Count.WithIndex(c.index),
			)
			if err != nil {
				return apperrors.Transient(err, "counting documents")
			}
			defer res.Body.Close()
			if res.IsError() {
				return apperrors.Transient(nil, "counting documents: %s", res.String())
			}

			var parsed struct {
				Count int64 `json:"count"`
			}
			if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
				return apperrors.Internal(err, "decoding count response")
			}
			count = parsed.Count
			return nil
		})
	})
	c.countOp("count", err)
	if err != nil {
		c.logger.Error("count degraded to zero", "error", err)
		return 0
	}
	return count
}

func (c *Client) execute(op func() error) error {
	if c.breaker == nil {
		return op()
	}
	err := c.breaker.Execute(op)
	if c.metrics != nil {
		c.metrics.CircuitBreakerState.WithLabelValues("search-index").Set(float64(c.breaker.GetState()))
	}
	return err
}

func (c *Client) countOp(op string, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.IndexOpsTotal.WithLabelValues(op, status).Inc()
}
