package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// Provider
	ProviderBaseURL   string `validate:"required,url"`
	ProviderAPIKey    string
	ProviderModel     string `validate:"required"`
	ProviderDimension int    `validate:"required,gt=0"`
	ProviderBatchMax  int    `validate:"gt=0"`
	ProviderTimeout   time.Duration

	// Cache
	CacheTTL        time.Duration
	CacheMemorySize int `validate:"gt=0"`

	// Batch vectorizer
	ChunkSize        int `validate:"gt=0"`
	ChunkParallelism int `validate:"gt=0"`
	ChunkInterval    time.Duration

	// Search
	SimilarityThreshold float64 `validate:"gte=-1,lte=1"`
	OversampleFactor    int     `validate:"gt=0"`

	// Store
	DatabaseURL string `validate:"required"`

	Env string // "dev" or "prod"
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ProviderBaseURL:     getEnv("SEMDEX_PROVIDER_URL", "https://api.openai.com"),
		ProviderAPIKey:      os.Getenv("SEMDEX_PROVIDER_API_KEY"),
		ProviderModel:       getEnv("SEMDEX_PROVIDER_MODEL", "embed-v1"),
		ProviderDimension:   getEnvInt("SEMDEX_PROVIDER_DIMENSION", 1536),
		ProviderBatchMax:    getEnvInt("SEMDEX_PROVIDER_BATCH_MAX", 16),
		ProviderTimeout:     getEnvDuration("SEMDEX_PROVIDER_TIMEOUT", 60*time.Second),
		CacheTTL:            getEnvDuration("SEMDEX_CACHE_TTL", 7*24*time.Hour),
		CacheMemorySize:     getEnvInt("SEMDEX_CACHE_MEMORY_SIZE", 4096),
		ChunkSize:           getEnvInt("SEMDEX_CHUNK_SIZE", 8),
		ChunkParallelism:    getEnvInt("SEMDEX_CHUNK_PARALLELISM", 5),
		ChunkInterval:       getEnvDuration("SEMDEX_CHUNK_INTERVAL", 1500*time.Millisecond),
		SimilarityThreshold: getEnvFloat("SEMDEX_SIMILARITY_THRESHOLD", 0.3),
		OversampleFactor:    getEnvInt("SEMDEX_OVERSAMPLE_FACTOR", 4),
		DatabaseURL:         getEnv("SEMDEX_DATABASE_URL", "./semdex.db"),
		Env:                 getEnv("APP_ENV", "dev"),
	}

	if cfg.Env == "prod" && cfg.ProviderAPIKey == "" {
		return nil, fmt.Errorf("prod: SEMDEX_PROVIDER_API_KEY is required")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
