package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, BackendIndexedLocal, cfg.Backend)
	assert.True(t, cfg.AutoSave)
	assert.Equal(t, "none", cfg.EmbeddingProvider)
	assert.Equal(t, 512, cfg.EmbeddingCacheSize)
	assert.Equal(t, 0.7, cfg.VectorWeight)
	assert.Equal(t, 0.3, cfg.KeywordWeight)
	assert.Equal(t, "public", cfg.PostgresSchema)
	assert.Equal(t, "memories", cfg.PostgresTable)
	assert.Equal(t, 500*time.Millisecond, cfg.BridgeRecallTimeout)
	assert.Equal(t, 800*time.Millisecond, cfg.BridgeStoreTimeout)
	assert.Equal(t, 15*time.Second, cfg.BridgeFailureCooldown)
	assert.Equal(t, 3, cfg.BridgeMinLocalHits)
	assert.True(t, cfg.HygieneEnabled)
	assert.Equal(t, 12*time.Hour, cfg.HygieneInterval)
	assert.Equal(t, 7, cfg.ArchiveAfterDays)
	assert.Equal(t, 30, cfg.PurgeAfterDays)
	assert.Equal(t, 7, cfg.ConversationRetentionDays)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MNEMO_BACKEND", BackendBridge)
	t.Setenv("MNEMO_DATA_DIR", "/tmp/mnemo-test")
	t.Setenv("MNEMO_AUTOSAVE", "false")
	t.Setenv("MNEMO_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("MNEMO_VECTOR_WEIGHT", "0.9")
	t.Setenv("MNEMO_KEYWORD_WEIGHT", "0.1")
	t.Setenv("MNEMO_BRIDGE_COMMAND", "/usr/local/bin/semsearch")
	t.Setenv("MNEMO_BRIDGE_RECALL_TIMEOUT", "250ms")
	t.Setenv("MNEMO_HYGIENE_INTERVAL", "1h")
	t.Setenv("MNEMO_ARCHIVE_AFTER_DAYS", "14")

	cfg := Load()

	assert.Equal(t, BackendBridge, cfg.Backend)
	assert.Equal(t, "/tmp/mnemo-test", cfg.DataDir)
	assert.False(t, cfg.AutoSave)
	assert.Equal(t, "ollama", cfg.EmbeddingProvider)
	assert.Equal(t, 0.9, cfg.VectorWeight)
	assert.Equal(t, 0.1, cfg.KeywordWeight)
	assert.Equal(t, "/usr/local/bin/semsearch", cfg.BridgeCommand)
	assert.Equal(t, 250*time.Millisecond, cfg.BridgeRecallTimeout)
	assert.Equal(t, time.Hour, cfg.HygieneInterval)
	assert.Equal(t, 14, cfg.ArchiveAfterDays)
}

func TestLoadIgnoresGarbageValues(t *testing.T) {
	t.Setenv("MNEMO_VECTOR_WEIGHT", "lots")
	t.Setenv("MNEMO_ARCHIVE_AFTER_DAYS", "soon")
	t.Setenv("MNEMO_HYGIENE_INTERVAL", "whenever")
	t.Setenv("MNEMO_AUTOSAVE", "maybe")

	cfg := Load()

	assert.Equal(t, 0.7, cfg.VectorWeight)
	assert.Equal(t, 7, cfg.ArchiveAfterDays)
	assert.Equal(t, 12*time.Hour, cfg.HygieneInterval)
	assert.True(t, cfg.AutoSave)
}
