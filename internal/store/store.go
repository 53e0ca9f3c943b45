// Package store persists the relocator's configuration keys.
//
// Every backend is scoped: the scope passed at construction plays the role
// of a per-plugin partition, so several deployments can share one database.
// A key can be absent, present but unset, or set. Get reports the first two
// identically (ok == false); only backend failures are errors, and those
// match ErrStorageUnavailable.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"automove/internal/config"
	"automove/internal/domain"
)

// ErrStorageUnavailable marks failures of the persistence backend itself.
var ErrStorageUnavailable = errors.New("config storage unavailable")

// DefaultScope is used when no scope is configured.
const DefaultScope = "automove"

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (domain.ConfigStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scope := cfg.Scope
	if scope == "" {
		scope = DefaultScope
	}

	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(scope), nil
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, scope, logger)
	case "redis":
		return NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Scope:    scope,
			Logger:   logger,
		})
	case "mongo":
		return NewMongoStore(ctx, MongoConfig{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			Scope:    scope,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
