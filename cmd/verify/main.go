// Command verify checks a deployment end to end: the relational store, the
// search index, the payload directory, and a sample query. It exits non-zero
// when any required piece is unreachable, so it can gate deploys.
//
// Usage:
//
//	go run ./cmd/verify [-config configs/development.yaml] [-query 'neural network']
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paperdex/paperdex/internal/elastic"
	"github.com/paperdex/paperdex/internal/store"
	"github.com/paperdex/paperdex/pkg/config"
	"github.com/paperdex/paperdex/pkg/logger"
	"github.com/paperdex/paperdex/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	query := flag.String("query", "neural network", "sample search query")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// Keep component logs out of the report.
	cfg.Logging.Level = "error"
	logger.Setup(cfg.Logging)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ok := true
	fail := func(format string, args ...any) {
		ok = false
		fmt.Printf(format+"\n", args...)
	}

	fmt.Println("=== Paperdex Pipeline Verification ===")
	fmt.Println()

	fmt.Println("1. PostgreSQL")
	var storeCount int64 = -1
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		fail("   connection:    FAILED (%v)", err)
	} else {
		defer db.Close()
		fmt.Println("   connection:    ok")
		st := store.NewPostgres(db)
		if count, err := st.Count(ctx); err != nil {
			fail("   papers stored: FAILED (%v)", err)
		} else {
			fmt.Printf("   papers stored: %d\n", count)
			storeCount = count
		}
	}
	fmt.Println()

	fmt.Println("2. Elasticsearch")
	var es *elastic.Client
	es, err = elastic.New(ctx, cfg.Elastic, nil, nil)
	if err != nil {
		fail("   connection:    FAILED (%v)", err)
		es = nil
	} else {
		fmt.Println("   connection:    ok")
		indexCount := es.Count(ctx)
		fmt.Printf("   docs indexed:  %d\n", indexCount)
		if storeCount >= 0 && indexCount != storeCount {
			fmt.Printf("   note: index and store differ by %d; the next ingest run reconciles them\n",
				storeCount-indexCount)
		}
	}
	fmt.Println()

	fmt.Println("3. Payload directory")
	entries, err := os.ReadDir(cfg.Ingest.StorageRoot)
	if err != nil {
		fail("   %s: FAILED (%v)", cfg.Ingest.StorageRoot, err)
	} else {
		var files int
		var bytes int64
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".pdf" {
				continue
			}
			files++
			if info, err := entry.Info(); err == nil {
				bytes += info.Size()
			}
		}
		fmt.Printf("   payloads:      %d files, %.1f MB\n", files, float64(bytes)/(1<<20))
	}
	fmt.Println()

	fmt.Println("4. Sample search")
	if es == nil {
		fmt.Println("   skipped (no elasticsearch connection)")
	} else {
		hits := es.Search(ctx, *query, 3)
		fmt.Printf("   query %q: %d hits\n", *query, len(hits))
		for _, hit := range hits {
			title := hit.Title
			if len(title) > 60 {
				title = title[:60] + "..."
			}
			fmt.Printf("     - %s  %s (score %.2f)\n", hit.ExternalID, title, hit.Score)
		}
	}
	fmt.Println()

	fmt.Println(strings.Repeat("=", 40))
	if ok {
		fmt.Println("Result: PASS")
		return
	}
	fmt.Println("Result: FAIL")
	os.Exit(1)
}
