// Package store builds the forecaster's model store from its config.
package store

import (
	"fmt"
	"log/slog"

	"github.com/HatiCode/shedcast/cmd/forecaster/config"
	"github.com/HatiCode/shedcast/pkg/storage"
)

// New creates the configured storage backend. File and Redis backends are
// wrapped in a read cache when cfg.CacheModels is set.
//
// The returned store implements io.Closer when the backend holds a connection.
func New(cfg *config.Config, logger *slog.Logger) (storage.ModelStore, error) {
	var backend storage.ModelStore

	switch cfg.Storage {
	case "memory":
		logger.Info("using in-memory model storage")
		return storage.NewMemoryStore(), nil

	case "file":
		fs, err := storage.NewFileStore(cfg.ModelDir, nil)
		if err != nil {
			return nil, fmt.Errorf("create file store: %w", err)
		}
		logger.Info("using file model storage", "dir", fs.Dir())
		backend = fs

	case "redis":
		rs, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL, nil)
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		logger.Info("using redis model storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.RedisTTL)
		backend = rs

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	if cfg.CacheModels {
		return storage.NewCachedStore(backend, cfg.CacheMaxAge), nil
	}
	return backend, nil
}
