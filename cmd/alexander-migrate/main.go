// Package main is the entry point for the alexander-uplink schema migration tool.
// It manages the schema of the sqlite and postgres secret stores.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/config"
	"github.com/prn-tf/alexander-uplink/internal/logging"
	"github.com/prn-tf/alexander-uplink/internal/secretstore"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// migrator is implemented by the SQL secret stores.
type migrator interface {
	MigrationStatus(ctx context.Context) (secretstore.MigrationStatus, error)
	Migrate(ctx context.Context) error
	Close() error
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, out io.Writer) error {
	switch command {
	case "version":
		fmt.Fprintf(out, "alexander-uplink Migration Tool\n")
		fmt.Fprintf(out, "Version: %s\n", Version)
		fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		return nil

	case "up", "status":
		cfg, err := config.Load(os.Getenv("UPLINK_CONFIG"))
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Logging, os.Stderr)
		if err != nil {
			return err
		}

		m, err := openMigrator(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer m.Close()

		if command == "up" {
			return migrateUp(ctx, m, out)
		}
		return printStatus(ctx, m, out)

	case "help", "-h", "--help":
		printUsage(out)
		return nil

	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func openMigrator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (migrator, error) {
	switch cfg.Secrets.Backend {
	case secretstore.BackendSQLite:
		sqliteCfg := secretstore.SQLiteConfigFrom(cfg.Database)
		sqliteCfg.SkipMigrate = true
		store, err := secretstore.OpenSQLite(ctx, sqliteCfg, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case secretstore.BackendPostgres:
		pgCfg := secretstore.PostgresConfigFrom(cfg.Database)
		pgCfg.SkipMigrate = true
		store, err := secretstore.OpenPostgres(ctx, pgCfg, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("secrets.backend %q has no schema to migrate", cfg.Secrets.Backend)
	}
}

func migrateUp(ctx context.Context, m migrator, out io.Writer) error {
	before, err := m.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	if err := m.Migrate(ctx); err != nil {
		return err
	}
	after, err := m.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Applied %d migration(s), schema at version %d\n", len(before.Pending), after.Current)
	return nil
}

func printStatus(ctx context.Context, m migrator, out io.Writer) error {
	status, err := m.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d\n", status.Current)
	fmt.Fprintf(out, "Latest version:  %d\n", status.Latest)
	for _, p := range status.Pending {
		fmt.Fprintf(out, "Pending: %06d_%s\n", p.Version, p.Name)
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `alexander-uplink Migration Tool

Usage:
  alexander-migrate <command>

Commands:
  up          Run all pending migrations
  status      Show current migration status
  version     Print version information
  help        Show this help message

The secret store is selected by the regular configuration (secrets.backend
and the database section). Only the sqlite and postgres backends have a
schema.

Environment Variables:
  UPLINK_CONFIG   Path to the configuration file
  UPLINK_*        Any configuration key, e.g. UPLINK_DATABASE_PATH

Examples:
  UPLINK_SECRETS_BACKEND=sqlite alexander-migrate status
  UPLINK_CONFIG=/etc/uplink/config.yaml alexander-migrate up`)
}
