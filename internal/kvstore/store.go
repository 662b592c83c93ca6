package kvstore

import (
	"context"
	"fmt"
	"strings"

	"autovideo/internal/config"
	"autovideo/internal/services"
)

// Store persists opaque values by key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Open constructs the backend selected by cfg.Storage.
func Open(cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "kvstore", "open", "configuration unavailable", nil)
	}
	switch cfg.Storage.Backend {
	case config.StorageFile, "":
		return NewFileStore(cfg.Paths.StateDir)
	case config.StorageSQLite:
		return OpenSQLite(cfg.Paths.StateDir)
	case config.StorageRedis:
		return NewRedisStore(RedisOptions{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Prefix:   cfg.Storage.RedisPrefix,
		}), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "kvstore", "open", fmt.Sprintf("unsupported backend %q", cfg.Storage.Backend), nil)
	}
}

// NotFound reports a missing key in the shared error taxonomy.
func NotFound(key string) error {
	return services.Wrap(services.ErrNotFound, "kvstore", "get", fmt.Sprintf("key %q not found", key), nil)
}

func validateKey(key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return services.Wrap(services.ErrValidation, "kvstore", "key", "empty key", nil)
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == "" || part == "." || part == ".." {
			return services.Wrap(services.ErrValidation, "kvstore", "key", fmt.Sprintf("invalid key %q", key), nil)
		}
	}
	return nil
}
