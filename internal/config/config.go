// Package config reads service settings from the environment, after an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgallion1/specgest/internal/embedding"
)

type Config struct {
	Port string

	// Auth
	APIKey      string
	CORSOrigins []string

	// Storage
	DataDir string

	// Worker pool
	WorkerCount         int
	MaxQueueSize        int
	MaxConcurrentEnrich int
	SearchConcurrency   int

	// Upload limits
	MaxUploadBytes int64

	// Chunking and enrichment
	MinChunkChars  int
	MaxInputTokens int
	EnrichTimeout  time.Duration

	// PDF conversion
	MinerUPath           string
	PDFFallbackPdftotext bool

	// Embeddings
	Embedding embedding.Config

	// Vector index: "memory", "qdrant" or "postgres"
	IndexBackend  string
	QdrantURL     string
	QdrantAPIKey  string
	Collection    string
	PostgresDSN   string
	PostgresTable string

	// Job store: "memory" or "redis"
	JobStore      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// LLM model registry
	ModelsFile   string
	DefaultModel string
}

// Load reads .env when present, then the environment.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey:      os.Getenv("SPECGEST_API_KEY"),
		CORSOrigins: envList("CORS_ORIGINS", []string{"http://localhost:3000"}),

		DataDir: envOr("DATA_DIR", "data"),

		WorkerCount:         envInt("WORKER_COUNT", 2),
		MaxQueueSize:        envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentEnrich: envInt("MAX_CONCURRENT_ENRICH", 4),
		SearchConcurrency:   envInt("SEARCH_CONCURRENCY", 8),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 104857600), // 100MB

		MinChunkChars:  envInt("MIN_CHUNK_CHARS", 50),
		MaxInputTokens: envInt("MAX_INPUT_TOKENS", 3000),
		EnrichTimeout:  envDuration("ENRICH_TIMEOUT", 2*time.Minute),

		MinerUPath:           os.Getenv("MINERU_PATH"),
		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),

		Embedding: embedding.Config{
			Provider:  envOr("EMBEDDING_PROVIDER", "openai"),
			BaseURL:   os.Getenv("EMBEDDING_BASE_URL"),
			APIKey:    os.Getenv("EMBEDDING_API_KEY"),
			Model:     envOr("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: envInt("EMBEDDING_DIM", 1536),
		},

		IndexBackend:  strings.ToLower(envOr("INDEX_BACKEND", "qdrant")),
		QdrantURL:     envOr("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:  os.Getenv("QDRANT_API_KEY"),
		Collection:    envOr("QDRANT_COLLECTION", "specgest_chunks"),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		PostgresTable: envOr("POSTGRES_TABLE", "specgest_chunks"),

		JobStore:      strings.ToLower(envOr("JOB_STORE", "memory")),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		RedisPrefix:   envOr("REDIS_PREFIX", "specgest"),

		ModelsFile:   envOr("LLM_CONFIG_FILE", "config/llm_config.yaml"),
		DefaultModel: os.Getenv("DEFAULT_MODEL"),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentEnrich <= 0 {
		cfg.MaxConcurrentEnrich = 4
	}
	if cfg.SearchConcurrency <= 0 {
		cfg.SearchConcurrency = 8
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 104857600
	}
	if cfg.MinChunkChars <= 0 {
		cfg.MinChunkChars = 50
	}
	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = 2 * time.Minute
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("SPECGEST_API_KEY is required")
	}
	switch c.IndexBackend {
	case "memory", "qdrant":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres index")
		}
	default:
		return fmt.Errorf("unknown INDEX_BACKEND %q", c.IndexBackend)
	}
	switch c.JobStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown JOB_STORE %q", c.JobStore)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	return nil
}

// UploadDir holds the original uploaded files.
func (c Config) UploadDir() string { return c.DataDir + "/uploads" }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
