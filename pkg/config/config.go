// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Postgres, Elasticsearch, Kafka, Redis, the ingestion
// pipeline, and the HTTP services).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Environment   string          `yaml:"environment"`
	Server        ServerConfig    `yaml:"server"`
	Postgres      PostgresConfig  `yaml:"postgres"`
	Elastic       ElasticConfig   `yaml:"elasticsearch"`
	Kafka         KafkaConfig     `yaml:"kafka"`
	Redis         RedisConfig     `yaml:"redis"`
	Metadata      MetadataConfig  `yaml:"metadata"`
	Ingest        IngestConfig    `yaml:"ingest"`
	Searcher      SearcherConfig  `yaml:"searcher"`
	Indexer       IndexerConfig   `yaml:"indexer"`
	Logging       LoggingConfig   `yaml:"logging"`
	Metrics       MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings shared by every service.
type ServerConfig struct {
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// ElasticConfig holds the search engine endpoint and index settings.
type ElasticConfig struct {
	Addresses       []string      `yaml:"addresses"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Index           string        `yaml:"index"`
	ConnectAttempts int           `yaml:"connectAttempts"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	PaperIngested string `yaml:"paperIngested"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// MetadataConfig points at the upstream metadata source and the default
// harvest query.
type MetadataConfig struct {
	BaseURL    string        `yaml:"baseUrl"`
	Query      string        `yaml:"query"`
	MaxResults int           `yaml:"maxResults"`
	Timeout    time.Duration `yaml:"timeout"`
}

// FetchConfig bounds a single payload download: request timeout, retry
// schedule, and an optional client-side rate limit (0 disables it).
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
	RatePerSecond  float64       `yaml:"ratePerSecond"`
}

// IngestConfig controls the pipeline: payload storage, worker ceiling,
// schedule, and fetch behaviour.
type IngestConfig struct {
	StorageRoot string      `yaml:"storageRoot"`
	Concurrency int         `yaml:"concurrency"`
	Schedule    string      `yaml:"schedule"`
	Port        int         `yaml:"port"`
	Fetch       FetchConfig `yaml:"fetch"`
}

// BreakerConfig tunes the circuit breaker guarding search-engine calls.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// SearcherConfig controls the search API service.
type SearcherConfig struct {
	Port         int           `yaml:"port"`
	DefaultLimit int           `yaml:"defaultLimit"`
	MaxLimit     int           `yaml:"maxLimit"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// IndexerConfig controls the indexing consumer service.
type IndexerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. A .env file in the working directory is folded into the
// environment first. It returns a Config populated with sensible defaults for
// any missing values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "paperdex",
			User:            "paperdex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Elastic: ElasticConfig{
			Addresses:       []string{"http://localhost:9200"},
			Index:           "papers",
			ConnectAttempts: 5,
			RequestTimeout:  10 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "paperdex-indexer",
			Topics: KafkaTopics{
				PaperIngested: "papers.ingested",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Metadata: MetadataConfig{
			BaseURL:    "http://export.arxiv.org/api/query",
			Query:      "cat:cs.LG",
			MaxResults: 100,
			Timeout:    30 * time.Second,
		},
		Ingest: IngestConfig{
			StorageRoot: "./data/payloads",
			Concurrency: 5,
			Schedule:    "@daily",
			Port:        8081,
			Fetch: FetchConfig{
				Timeout:        30 * time.Second,
				MaxAttempts:    3,
				InitialBackoff: 4 * time.Second,
				MaxBackoff:     10 * time.Second,
				RatePerSecond:  0,
			},
		},
		Searcher: SearcherConfig{
			Port:         8080,
			DefaultLimit: 10,
			MaxLimit:     100,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Indexer: IndexerConfig{
			Port: 8082,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads PD_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PD_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("PD_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PD_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("PD_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("PD_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PD_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PD_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("PD_ELASTIC_ADDRESSES"); v != "" {
		cfg.Elastic.Addresses = strings.Split(v, ",")
	}
	if v := os.Getenv("PD_ELASTIC_USERNAME"); v != "" {
		cfg.Elastic.Username = v
	}
	if v := os.Getenv("PD_ELASTIC_PASSWORD"); v != "" {
		cfg.Elastic.Password = v
	}
	if v := os.Getenv("PD_ELASTIC_INDEX"); v != "" {
		cfg.Elastic.Index = v
	}
	if v := os.Getenv("PD_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PD_KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.Kafka.ConsumerGroup = v
	}
	if v := os.Getenv("PD_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PD_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PD_METADATA_BASE_URL"); v != "" {
		cfg.Metadata.BaseURL = v
	}
	if v := os.Getenv("PD_METADATA_QUERY"); v != "" {
		cfg.Metadata.Query = v
	}
	if v := os.Getenv("PD_METADATA_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metadata.MaxResults = n
		}
	}
	if v := os.Getenv("PD_INGEST_STORAGE_ROOT"); v != "" {
		cfg.Ingest.StorageRoot = v
	}
	if v := os.Getenv("PD_INGEST_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Ingest.Concurrency = n
		}
	}
	if v := os.Getenv("PD_INGEST_SCHEDULE"); v != "" {
		cfg.Ingest.Schedule = v
	}
	if v := os.Getenv("PD_INGEST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Port = port
		}
	}
	if v := os.Getenv("PD_SEARCHER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Searcher.Port = port
		}
	}
	if v := os.Getenv("PD_INDEXER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.Port = port
		}
	}
	if v := os.Getenv("PD_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PD_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PD_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
