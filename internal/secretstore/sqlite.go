package secretstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const sqliteMigrationsDir = "migrations/sqlite"

// SQLiteConfig holds SQLite connection settings.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" keeps the database in memory.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int

	// ConnMaxLifetime sets the maximum connection lifetime.
	ConnMaxLifetime time.Duration

	// JournalMode sets the SQLite journal mode (WAL recommended for concurrency).
	JournalMode string

	// BusyTimeout sets the busy timeout in milliseconds.
	BusyTimeout int

	// SkipMigrate leaves the schema untouched on open.
	SkipMigrate bool
}

// DefaultSQLiteConfig returns a default SQLite configuration.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:            path,
		MaxOpenConns:    1, // SQLite works best with single writer
		ConnMaxLifetime: time.Hour,
		JournalMode:     "WAL",
		BusyTimeout:     5000,
	}
}

// dsn builds a modernc.org/sqlite connection string. Pragmas are passed as
// repeated _pragma parameters.
func (c SQLiteConfig) dsn() string {
	params := url.Values{}
	if c.BusyTimeout > 0 {
		params.Add("_pragma", "busy_timeout("+strconv.Itoa(c.BusyTimeout)+")")
	}
	if c.JournalMode != "" && c.Path != ":memory:" {
		params.Add("_pragma", "journal_mode("+c.JournalMode+")")
	}
	params.Add("_pragma", "foreign_keys(1)")
	return "file:" + c.Path + "?" + params.Encode()
}

// SQLiteStore keeps secrets in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// OpenSQLite opens the database file, creating its directory if needed, and
// brings the schema up to date.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig, logger zerolog.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	logger.Info().
		Str("path", cfg.Path).
		Str("journal_mode", cfg.JournalMode).
		Msg("connected to SQLite secret store")

	store := NewSQLiteFromDB(db, logger)
	if cfg.SkipMigrate {
		return store, nil
	}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteFromDB wraps an open database. The schema is not touched.
func NewSQLiteFromDB(db *sql.DB, logger zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger, now: time.Now}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, provider, secretID, field string) (string, bool, error) {
	if err := validateKey(provider, secretID, field); err != nil {
		return "", false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM secrets WHERE provider = ? AND secret_id = ? AND field = ?`,
		provider, secretID, field,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read secret %s: %w", keyString(provider, secretID, field), err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, provider, secretID, field, value string) error {
	if err := validateKey(provider, secretID, field); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (provider, secret_id, field, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, secret_id, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		provider, secretID, field, value, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to write secret %s: %w", keyString(provider, secretID, field), err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, provider, secretID string) error {
	if err := validateKey(provider, secretID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM secrets WHERE provider = ? AND secret_id = ?`,
		provider, secretID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete secret %s/%s: %w", provider, secretID, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.logger.Debug().Msg("closing SQLite secret store")
	return s.db.Close()
}

// WithTx executes a function within a transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) currentVersion(ctx context.Context) (int, error) {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var version int
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	return version, nil
}

// MigrationStatus reports the applied and pending schema versions.
func (s *SQLiteStore) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	all, err := loadMigrations(sqliteMigrationsDir)
	if err != nil {
		return MigrationStatus{}, err
	}
	current, err := s.currentVersion(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}
	return pendingMigrations(all, current), nil
}

// Migrate applies pending migrations, each in its own transaction.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	status, err := s.MigrationStatus(ctx)
	if err != nil {
		return err
	}

	s.logger.Debug().Int("current_version", status.Current).Int("pending", len(status.Pending)).Msg("checking migrations")

	for _, m := range status.Pending {
		err := s.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
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

var _ Store = (*SQLiteStore)(nil)
