package store

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/model"
)

// Open builds the store named by cfg.Backend.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendIndexedLocal:
		return openIndexedLocal(cfg, logger)

	case config.BackendFile:
		return NewFileStore(FileOptions{
			Dir:      cfg.DataDir,
			AutoSave: cfg.AutoSave,
			Logger:   logger,
		})

	case config.BackendRelational:
		return NewPostgresStore(ctx, PostgresOptions{
			DSN:            cfg.PostgresDSN,
			Schema:         cfg.PostgresSchema,
			Table:          cfg.PostgresTable,
			ConnectTimeout: cfg.PostgresTimeout,
			Logger:         logger,
		})

	case config.BackendBridge:
		local, err := openIndexedLocal(cfg, logger)
		if err != nil {
			return nil, err
		}
		bridge, err := NewBridgeStore(BridgeOptions{
			Local:           local,
			Command:         cfg.BridgeCommand,
			TokenBudget:     cfg.BridgeTokenBudget,
			RecallTimeout:   cfg.BridgeRecallTimeout,
			StoreTimeout:    cfg.BridgeStoreTimeout,
			FailureCooldown: cfg.BridgeFailureCooldown,
			MinLocalHits:    cfg.BridgeMinLocalHits,
			Logger:          logger,
		})
		if err != nil {
			local.Close()
			return nil, err
		}
		return bridge, nil

	case config.BackendNone:
		return NewNullStore(), nil

	default:
		return nil, &model.ValidationError{
			Field:  "backend",
			Reason: fmt.Sprintf("unknown backend %q", cfg.Backend),
		}
	}
}

func openIndexedLocal(cfg config.Config, logger *zap.Logger) (*SQLiteStore, error) {
	embedder, err := embedding.FromConfig(embedding.Config{
		Provider: cfg.EmbeddingProvider,
		Model:    cfg.EmbeddingModel,
		BaseURL:  cfg.EmbeddingBaseURL,
		APIKey:   cfg.EmbeddingAPIKey,
		Dims:     cfg.EmbeddingDims,
	})
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(SQLiteOptions{
		Path:          filepath.Join(cfg.DataDir, "memory.db"),
		Embedder:      embedder,
		CacheSize:     cfg.EmbeddingCacheSize,
		VectorWeight:  cfg.VectorWeight,
		KeywordWeight: cfg.KeywordWeight,
		Logger:        logger,
	})
}
