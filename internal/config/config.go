// Package config loads runtime settings from MNEMO_* environment
// variables with sensible defaults. A .env file, if present, is loaded by
// the entrypoint before this package reads the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Backend names accepted by MNEMO_BACKEND.
const (
	BackendIndexedLocal = "indexed-local"
	BackendFile         = "file"
	BackendRelational   = "relational"
	BackendBridge       = "bridge"
	BackendNone         = "none"
)

// Config is the full runtime configuration for the memory subsystem.
type Config struct {
	Backend  string
	DataDir  string
	AutoSave bool

	// Embedding provider settings.
	EmbeddingProvider  string // "none", "ollama", or "openai"
	EmbeddingModel     string
	EmbeddingBaseURL   string
	EmbeddingAPIKey    string
	EmbeddingDims      int
	EmbeddingCacheSize int

	// Hybrid recall weights.
	VectorWeight  float64
	KeywordWeight float64

	// Relational backend settings.
	PostgresDSN     string
	PostgresSchema  string
	PostgresTable   string
	PostgresTimeout time.Duration

	// Bridge backend settings.
	BridgeCommand         string
	BridgeTokenBudget     int
	BridgeRecallTimeout   time.Duration
	BridgeStoreTimeout    time.Duration
	BridgeFailureCooldown time.Duration
	BridgeMinLocalHits    int

	// Hygiene settings.
	HygieneEnabled            bool
	HygieneInterval           time.Duration
	ArchiveAfterDays          int
	PurgeAfterDays            int
	ConversationRetentionDays int
}

// Load reads configuration from the environment.
func Load() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return Config{
		Backend:  envOrDefault("MNEMO_BACKEND", BackendIndexedLocal),
		DataDir:  envOrDefault("MNEMO_DATA_DIR", filepath.Join(home, ".mnemo")),
		AutoSave: boolFromEnv("MNEMO_AUTOSAVE", true),

		EmbeddingProvider:  envOrDefault("MNEMO_EMBEDDING_PROVIDER", "none"),
		EmbeddingModel:     os.Getenv("MNEMO_EMBEDDING_MODEL"),
		EmbeddingBaseURL:   os.Getenv("MNEMO_EMBEDDING_BASE_URL"),
		EmbeddingAPIKey:    os.Getenv("MNEMO_EMBEDDING_API_KEY"),
		EmbeddingDims:      intFromEnv("MNEMO_EMBEDDING_DIMS", 0),
		EmbeddingCacheSize: intFromEnv("MNEMO_EMBEDDING_CACHE_SIZE", 512),

		VectorWeight:  floatFromEnv("MNEMO_VECTOR_WEIGHT", 0.7),
		KeywordWeight: floatFromEnv("MNEMO_KEYWORD_WEIGHT", 0.3),

		PostgresDSN:     os.Getenv("MNEMO_POSTGRES_DSN"),
		PostgresSchema:  envOrDefault("MNEMO_POSTGRES_SCHEMA", "public"),
		PostgresTable:   envOrDefault("MNEMO_POSTGRES_TABLE", "memories"),
		PostgresTimeout: durationFromEnv("MNEMO_POSTGRES_TIMEOUT", 5*time.Second),

		BridgeCommand:         os.Getenv("MNEMO_BRIDGE_COMMAND"),
		BridgeTokenBudget:     intFromEnv("MNEMO_BRIDGE_TOKEN_BUDGET", 2048),
		BridgeRecallTimeout:   durationFromEnv("MNEMO_BRIDGE_RECALL_TIMEOUT", 500*time.Millisecond),
		BridgeStoreTimeout:    durationFromEnv("MNEMO_BRIDGE_STORE_TIMEOUT", 800*time.Millisecond),
		BridgeFailureCooldown: durationFromEnv("MNEMO_BRIDGE_FAILURE_COOLDOWN", 15*time.Second),
		BridgeMinLocalHits:    intFromEnv("MNEMO_BRIDGE_MIN_LOCAL_HITS", 3),

		HygieneEnabled:            boolFromEnv("MNEMO_HYGIENE_ENABLED", true),
		HygieneInterval:           durationFromEnv("MNEMO_HYGIENE_INTERVAL", 12*time.Hour),
		ArchiveAfterDays:          intFromEnv("MNEMO_ARCHIVE_AFTER_DAYS", 7),
		PurgeAfterDays:            intFromEnv("MNEMO_PURGE_AFTER_DAYS", 30),
		ConversationRetentionDays: intFromEnv("MNEMO_CONVERSATION_RETENTION_DAYS", 7),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intFromEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func floatFromEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func boolFromEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
