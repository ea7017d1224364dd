package secretstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const postgresMigrationsDir = "migrations/postgres"

// PostgresConfig holds PostgreSQL pool settings.
type PostgresConfig struct {
	DSN             string
	MaxConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// SkipMigrate leaves the schema untouched on open.
	SkipMigrate bool
}

// querier is implemented by both pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ querier = (*pgxpool.Pool)(nil)
	_ querier = (pgx.Tx)(nil)
)

// PostgresStore keeps secrets in a shared PostgreSQL database so several
// hosts can reuse one SSO session.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// OpenPostgres connects a pool and brings the schema up to date.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger zerolog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	// Query values are secrets, so the tracer only logs statements.
	if logger.GetLevel() <= zerolog.DebugLevel {
		poolConfig.ConnConfig.Tracer = &queryTracer{logger: logger}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Str("database", poolConfig.ConnConfig.Database).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("connected to PostgreSQL secret store")

	store := &PostgresStore{pool: pool, logger: logger}
	if cfg.SkipMigrate {
		return store, nil
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, provider, secretID, field string) (string, bool, error) {
	if err := validateKey(provider, secretID, field); err != nil {
		return "", false, err
	}

	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM secrets WHERE provider = $1 AND secret_id = $2 AND field = $3`,
		provider, secretID, field,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read secret %s: %w", keyString(provider, secretID, field), err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, provider, secretID, field, value string) error {
	if err := validateKey(provider, secretID, field); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO secrets (provider, secret_id, field, value, updated_at) VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (provider, secret_id, field) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		provider, secretID, field, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write secret %s: %w", keyString(provider, secretID, field), err)
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, provider, secretID string) error {
	if err := validateKey(provider, secretID); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `DELETE FROM secrets WHERE provider = $1 AND secret_id = $2`, provider, secretID)
	if err != nil {
		return fmt.Errorf("failed to delete secret %s/%s: %w", provider, secretID, err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	s.logger.Debug().Msg("database connection pool closed")
	return nil
}

// WithTx executes a function within a transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func currentPostgresVersion(ctx context.Context, q querier) (int, error) {
	_, err := q.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var version int
	if err := q.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	return version, nil
}

// MigrationStatus reports the applied and pending schema versions.
func (s *PostgresStore) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	all, err := loadMigrations(postgresMigrationsDir)
	if err != nil {
		return MigrationStatus{}, err
	}
	current, err := currentPostgresVersion(ctx, s.pool)
	if err != nil {
		return MigrationStatus{}, err
	}
	return pendingMigrations(all, current), nil
}

// Migrate applies pending migrations, each in its own transaction.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	status, err := s.MigrationStatus(ctx)
	if err != nil {
		return err
	}

	for _, m := range status.Pending {
		err := s.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}
	return nil
}

// queryTracer implements pgx.QueryTracer for debug logging.
type queryTracer struct {
	logger zerolog.Logger
}

type traceQueryCtxKey struct{}

type traceQueryData struct {
	sql       string
	startTime time.Time
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceQueryCtxKey{}, &traceQueryData{
		sql:       data.SQL,
		startTime: time.Now(),
	})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	queryData, ok := ctx.Value(traceQueryCtxKey{}).(*traceQueryData)
	if !ok {
		return
	}

	event := t.logger.Debug().
		Str("sql", queryData.sql).
		Dur("duration", time.Since(queryData.startTime)).
		Str("command_tag", data.CommandTag.String())

	if data.Err != nil {
		event.Err(data.Err)
	}

	event.Msg("query executed")
}

var _ Store = (*PostgresStore)(nil)
