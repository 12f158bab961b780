// Package integration contains tests that wire several real components
// together: the search service stack over an in-process Elasticsearch
// stand-in and miniredis, and the full ingest pipeline against a live
// PostgreSQL. External systems the tests cannot spin up locally are
// mocked; PostgreSQL-backed tests skip themselves when no database is
// reachable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/paperdex/paperdex/internal/elastic"
	"github.com/paperdex/paperdex/internal/paper"
	"github.com/paperdex/paperdex/internal/runs"
	"github.com/paperdex/paperdex/internal/searcher/cache"
	"github.com/paperdex/paperdex/internal/searcher/executor"
	"github.com/paperdex/paperdex/internal/searcher/handler"
	"github.com/paperdex/paperdex/internal/store"
	"github.com/paperdex/paperdex/pkg/config"
	"github.com/paperdex/paperdex/pkg/logger"
	"github.com/paperdex/paperdex/pkg/middleware"
	pkgredis "github.com/paperdex/paperdex/pkg/redis"
)

// TestMain quiets component logging so test output stays readable.
func TestMain(m *testing.M) {
	logger.Setup(config.LoggingConfig{Level: "error", Format: "text"})
	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// searchCluster speaks just enough Elasticsearch for the search service:
// info, index bootstrap, document writes, query, count. Search matches by
// lowercase substring and counts the queries it serves, so tests can tell
// a cache hit from a cluster round trip.
type searchCluster struct {
	mu       sync.Mutex
	exists   bool
	docs     map[string]map[string]any
	searches int
	failing  bool
}

func newSearchCluster() *searchCluster {
	return &searchCluster{docs: map[string]map[string]any{}}
}

func (c *searchCluster) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = true
}

func (c *searchCluster) searchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searches
}

func (c *searchCluster) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.failing {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"cluster down"}`))
			return
		}

		switch {
		case r.URL.Path == "/":
			json.NewEncoder(w).Encode(map[string]any{
				"version": map[string]any{"number": "8.19.0"},
			})

		case r.URL.Path == "/papers" && r.Method == http.MethodHead:
			if c.exists {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}

		case r.URL.Path == "/papers" && r.Method == http.MethodPut:
			c.exists = true
			json.NewEncoder(w).Encode(map[string]any{"acknowledged": true})

		case strings.HasPrefix(r.URL.Path, "/papers/_doc/"):
			id := strings.TrimPrefix(r.URL.Path, "/papers/_doc/")
			var doc map[string]any
			json.NewDecoder(r.Body).Decode(&doc)
			c.docs[id] = doc
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"result": "created"})

		case r.URL.Path == "/papers/_search":
			c.searches++
			var req struct {
				Size  int `json:"size"`
				Query struct {
					MultiMatch struct {
						Query string `json:"query"`
					} `json:"multi_match"`
				} `json:"query"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			needle := strings.ToLower(req.Query.MultiMatch.Query)

			type esHit struct {
				Score  float64        `json:"_score"`
				Source map[string]any `json:"_source"`
			}
			hits := []esHit{}
			for _, doc := range c.docs {
				title, _ := doc["title"].(string)
				summary, _ := doc["summary"].(string)
				fullText, _ := doc["full_text"].(string)
				haystack := strings.ToLower(title + " " + summary + " " + fullText)
				if needle != "" && !strings.Contains(haystack, needle) {
					continue
				}
				if req.Size > 0 && len(hits) >= req.Size {
					break
				}
				hits = append(hits, esHit{Score: 2.0, Source: doc})
			}
			json.NewEncoder(w).Encode(map[string]any{
				"hits": map[string]any{"hits": hits},
			})

		case r.URL.Path == "/papers/_count":
			json.NewEncoder(w).Encode(map[string]any{"count": len(c.docs)})

		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"unexpected request"}`))
		}
	})
}

// stubRunLog satisfies the handler's run lister with canned history.
type stubRunLog struct {
	rows []runs.Run
}

func (s stubRunLog) RecentRuns(context.Context, int) ([]runs.Run, error) {
	return s.rows, nil
}

// newSearchService assembles the search stack the way cmd/searcher does:
// real index client, query cache, executor, handler, and middleware chain,
// backed by the fake cluster, miniredis, and an in-memory paper store.
func newSearchService(t *testing.T, cluster *searchCluster) (*httptest.Server, *elastic.Client, *store.Memory) {
	t.Helper()

	esServer := httptest.NewServer(cluster.handler())
	t.Cleanup(esServer.Close)

	es, err := elastic.New(context.Background(), config.ElasticConfig{
		Addresses:       []string{esServer.URL},
		Index:           "papers",
		ConnectAttempts: 1,
		RequestTimeout:  5 * time.Second,
	}, nil, nil)
	if err != nil {
		t.Fatalf("connecting search index: %v", err)
	}

	mr := miniredis.RunT(t)
	redisCfg := config.RedisConfig{Addr: mr.Addr(), CacheTTL: time.Minute}
	redisClient, err := pkgredis.NewClient(redisCfg)
	if err != nil {
		t.Fatalf("connecting redis: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	papers := store.NewMemory()
	h := handler.New(
		executor.New(es),
		cache.New(redisClient, redisCfg, nil),
		papers,
		stubRunLog{rows: []runs.Run{
			{ID: "run-1", Query: "cat:cs.IR", Status: runs.StatusCompleted, Total: 5, Successful: 5},
			{ID: "run-2", Query: "cat:cs.LG", Status: runs.StatusRunning},
		}},
		config.SearcherConfig{DefaultLimit: 10, MaxLimit: 100},
		nil,
	)

	mux := http.NewServeMux()
	h.Register(mux)

	var root http.Handler = mux
	root = middleware.Timeout(5 * time.Second)(root)
	root = middleware.CORS(middleware.DefaultCORSConfig())(root)
	root = middleware.RequestID()(root)

	srv := httptest.NewServer(root)
	t.Cleanup(srv.Close)
	return srv, es, papers
}

func seedIndex(t *testing.T, es *elastic.Client, id, title, fullText string) {
	t.Helper()
	doc := paper.SearchDocument{
		ExternalID:  id,
		Title:       title,
		Summary:     "a summary",
		Authors:     []string{"A. Author"},
		Categories:  []string{"cs.IR"},
		FullText:    fullText,
		PublishedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := es.Upsert(context.Background(), doc); err != nil {
		t.Fatalf("seeding index with %s: %v", id, err)
	}
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s response: %v", url, err)
		}
	}
	return resp
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestSearchServesIndexedPapers walks the full read path: documents indexed
// through the real client come back out of the HTTP API, scored and shaped.
func TestSearchServesIndexedPapers(t *testing.T) {
	cluster := newSearchCluster()
	srv, es, _ := newSearchService(t, cluster)

	seedIndex(t, es, "2403.00001", "Quantum Error Correction", "stabilizer codes")
	seedIndex(t, es, "2403.00002", "Distributed Consensus", "raft and paxos")

	var result executor.SearchResult
	resp := getJSON(t, srv.URL+"/api/v1/search?q=quantum", &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("response carries no X-Request-ID")
	}

	if result.Query != "quantum" {
		t.Errorf("query = %q, want %q", result.Query, "quantum")
	}
	if result.TotalHits != 1 {
		t.Fatalf("total_hits = %d, want 1", result.TotalHits)
	}
	if got := result.Results[0].ExternalID; got != "2403.00001" {
		t.Errorf("hit = %s, want 2403.00001", got)
	}
	if result.Results[0].Score <= 0 {
		t.Errorf("score = %f, want > 0", result.Results[0].Score)
	}
}

// TestRepeatSearchIsServedFromCache verifies the second identical query
// never reaches the cluster and that the stats endpoint reflects the hit.
func TestRepeatSearchIsServedFromCache(t *testing.T) {
	cluster := newSearchCluster()
	srv, es, _ := newSearchService(t, cluster)
	seedIndex(t, es, "2403.00003", "Graph Neural Networks", "message passing")

	var first, second executor.SearchResult
	getJSON(t, srv.URL+"/api/v1/search?q=graph", &first)
	getJSON(t, srv.URL+"/api/v1/search?q=graph", &second)

	if got := cluster.searchCount(); got != 1 {
		t.Errorf("cluster served %d searches, want 1 (second must come from cache)", got)
	}
	if first.TotalHits != second.TotalHits {
		t.Errorf("cached result diverged: %d vs %d hits", first.TotalHits, second.TotalHits)
	}

	var stats struct {
		Hits   int64 `json:"hits"`
		Misses int64 `json:"misses"`
	}
	getJSON(t, srv.URL+"/api/v1/cache/stats", &stats)
	if stats.Hits < 1 {
		t.Errorf("cache stats report %d hits, want at least 1", stats.Hits)
	}
}

// TestCacheInvalidateForcesClusterRoundTrip verifies the admin endpoint
// actually drops cached entries.
func TestCacheInvalidateForcesClusterRoundTrip(t *testing.T) {
	cluster := newSearchCluster()
	srv, es, _ := newSearchService(t, cluster)
	seedIndex(t, es, "2403.00004", "Sparse Retrieval", "inverted lists")

	getJSON(t, srv.URL+"/api/v1/search?q=retrieval", nil)

	resp, err := http.Post(srv.URL+"/api/v1/cache/invalidate", "application/json", nil)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invalidate status = %d, want 200", resp.StatusCode)
	}

	getJSON(t, srv.URL+"/api/v1/search?q=retrieval", nil)
	if got := cluster.searchCount(); got != 2 {
		t.Errorf("cluster served %d searches, want 2 after invalidation", got)
	}
}

// TestPaperDetailRoute verifies the stored document, not the index
// projection, is what the detail endpoint returns.
func TestPaperDetailRoute(t *testing.T) {
	cluster := newSearchCluster()
	srv, _, papers := newSearchService(t, cluster)

	err := papers.Upsert(context.Background(), paper.Document{
		ExternalID:  "2403.00005",
		Title:       "Stored Paper",
		Summary:     "with payload",
		PayloadPath: "/data/payloads/2403.00005.pdf",
		FullText:    "the complete extracted text",
	})
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	var doc paper.Document
	resp := getJSON(t, srv.URL+"/api/v1/papers/2403.00005", &doc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if doc.PayloadPath != "/data/payloads/2403.00005.pdf" {
		t.Errorf("payload_path = %q", doc.PayloadPath)
	}
	if doc.FullText != "the complete extracted text" {
		t.Errorf("full_text = %q", doc.FullText)
	}

	resp = getJSON(t, srv.URL+"/api/v1/papers/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing paper status = %d, want 404", resp.StatusCode)
	}
}

// TestSearchDegradesWhenClusterFails verifies an index outage surfaces as
// an empty result, not an error, end to end.
func TestSearchDegradesWhenClusterFails(t *testing.T) {
	cluster := newSearchCluster()
	srv, es, _ := newSearchService(t, cluster)
	seedIndex(t, es, "2403.00006", "Anything", "text")

	cluster.fail()

	var result executor.SearchResult
	resp := getJSON(t, srv.URL+"/api/v1/search?q=anything", &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d during outage, want 200", resp.StatusCode)
	}
	if result.TotalHits != 0 {
		t.Errorf("total_hits = %d during outage, want 0", result.TotalHits)
	}
	if result.Results == nil {
		t.Error("results is null, want empty array")
	}
}

// TestRecentRunsRoute verifies run history flows through the service chain.
func TestRecentRunsRoute(t *testing.T) {
	cluster := newSearchCluster()
	srv, _, _ := newSearchService(t, cluster)

	var body struct {
		Runs  []runs.Run `json:"runs"`
		Count int        `json:"count"`
	}
	resp := getJSON(t, srv.URL+"/api/v1/runs/recent", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body.Count != 2 || len(body.Runs) != 2 {
		t.Fatalf("count = %d with %d runs, want 2", body.Count, len(body.Runs))
	}
	if body.Runs[0].ID != "run-1" || body.Runs[0].Status != runs.StatusCompleted {
		t.Errorf("first run = %+v", body.Runs[0])
	}
}
