package secretstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/config"
)

// Open builds the backend selected by cfg.Secrets.Backend, wrapped in an
// EncryptedStore when an encryption key is configured and in a CachedStore
// when a cache ttl is set.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Store, error) {
	logger = logger.With().Str("component", "secretstore").Str("backend", cfg.Secrets.Backend).Logger()

	var (
		store Store
		err   error
	)
	switch cfg.Secrets.Backend {
	case BackendMemory:
		store = NewMemoryStore()
	case BackendSQLite:
		store, err = OpenSQLite(ctx, SQLiteConfigFrom(cfg.Database), logger)
	case BackendPostgres:
		store, err = OpenPostgres(ctx, PostgresConfigFrom(cfg.Database), logger)
	case BackendRedis:
		store, err = OpenRedis(ctx, RedisOptions(cfg.Redis), cfg.Secrets.RedisPrefix, logger)
	case BackendKeyring, "":
		store = NewKeyringStore(cfg.Secrets.KeyringService, logger)
	default:
		return nil, fmt.Errorf("unknown secret store backend %q", cfg.Secrets.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Secrets.EncryptionKey != "" {
		encrypted, err := NewEncryptedStore(store, cfg.Secrets.EncryptionKey)
		if err != nil {
			store.Close()
			return nil, err
		}
		store = encrypted
	}

	if cfg.Secrets.CacheTTL > 0 {
		store = NewCachedStore(store, cfg.Secrets.CacheTTL)
	}
	return store, nil
}

// SQLiteConfigFrom converts the database config section for the sqlite
// backend.
func SQLiteConfigFrom(cfg config.DatabaseConfig) SQLiteConfig {
	sqliteCfg := DefaultSQLiteConfig(cfg.Path)
	if cfg.JournalMode != "" {
		sqliteCfg.JournalMode = cfg.JournalMode
	}
	if cfg.BusyTimeout > 0 {
		sqliteCfg.BusyTimeout = cfg.BusyTimeout
	}
	return sqliteCfg
}

// PostgresConfigFrom converts the database config section for the postgres
// backend.
func PostgresConfigFrom(cfg config.DatabaseConfig) PostgresConfig {
	return PostgresConfig{
		DSN:             cfg.DSN(),
		MaxConns:        cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

// RedisOptions converts the redis config section into client options.
func RedisOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}
}
