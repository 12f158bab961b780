// Command ingestor runs the paper ingestion service.
//
// On a cron cadence (default @daily) it harvests paper metadata from arXiv,
// filters out already-stored papers, downloads and extracts the new PDFs,
// persists them to PostgreSQL, publishes an event per paper to Kafka, and
// reconciles the Elasticsearch index against the store. An admin HTTP API
// triggers runs on demand (POST /api/v1/runs) and inspects their history.
//
// Usage:
//
//	go run ./cmd/ingestor [-config configs/development.yaml]
//	go run ./cmd/ingestor -once [-query 'cat:cs.CL'] [-max 50]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paperdex/paperdex/internal/elastic"
	"github.com/paperdex/paperdex/internal/extract"
	"github.com/paperdex/paperdex/internal/fetch"
	"github.com/paperdex/paperdex/internal/ingestor/handler"
	"github.com/paperdex/paperdex/internal/metadata"
	"github.com/paperdex/paperdex/internal/pipeline"
	"github.com/paperdex/paperdex/internal/runs"
	"github.com/paperdex/paperdex/internal/store"
	"github.com/paperdex/paperdex/pkg/config"
	"github.com/paperdex/paperdex/pkg/health"
	"github.com/paperdex/paperdex/pkg/kafka"
	"github.com/paperdex/paperdex/pkg/logger"
	"github.com/paperdex/paperdex/pkg/metrics"
	"github.com/paperdex/paperdex/pkg/middleware"
	"github.com/paperdex/paperdex/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	once := flag.Bool("once", false, "run one pipeline run and exit")
	query := flag.String("query", "", "metadata query for -once (default from config)")
	maxResults := flag.Int("max", 0, "result cap for -once (default from config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)
	slog.Info("starting ingest service", "port", cfg.Ingest.Port, "schedule", cfg.Ingest.Schedule)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// The ingestor owns the schema; the other services assume it exists.
	st := store.NewPostgres(db)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure paper schema", "error", err)
		os.Exit(1)
	}
	runStore := runs.NewStore(db)
	if err := runStore.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure run schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	es, err := elastic.New(ctx, cfg.Elastic, nil, m)
	if err != nil {
		slog.Error("failed to connect to elasticsearch", "error", err)
		os.Exit(1)
	}

	payloads, err := fetch.NewPayloadStore(cfg.Ingest.StorageRoot)
	if err != nil {
		slog.Error("failed to open payload store", "error", err)
		os.Exit(1)
	}
	fetcher := fetch.NewFetcher(payloads, cfg.Ingest, m)
	extractor := extract.NewChain(m)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PaperIngested)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.PaperIngested)

	tasks := pipeline.NewTasks(pipeline.TasksDeps{
		Source:   metadata.NewArxiv(cfg.Metadata),
		Executor: pipeline.NewExecutor(fetcher, extractor, st, producer, cfg.Ingest.Concurrency, m),
		Store:    st,
		Index:    es,
		RunLog:   runStore,
		Ingest:   cfg.Ingest,
		Metadata: cfg.Metadata,
		Metrics:  m,
	})

	if *once {
		run, err := tasks.Run(ctx, *query, *maxResults)
		if err != nil {
			slog.Error("run failed", "run_id", run.ID, "error", err)
			os.Exit(1)
		}
		return
	}

	scheduler, err := pipeline.NewScheduler(tasks, cfg.Ingest.Schedule)
	if err != nil {
		slog.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.Metrics.Enabled {
		stopMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = stopMetrics(shutdownCtx)
		}()
	}

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := st.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("elasticsearch", func(ctx context.Context) health.ComponentHealth {
		if err := es.Ping(ctx); err != nil {
			// The pipeline still ingests with the index down; IndexAll
			// reconciles once it returns.
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("payload_store", func(context.Context) health.ComponentHealth {
		if _, err := os.Stat(cfg.Ingest.StorageRoot); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := handler.New(tasks, runStore)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID()(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Ingest.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("ingest service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingest service stopped")
}
