// Package store owns the gateway's single PostgreSQL connection pool and
// its embedded schema migrations, the way the pack's only real SQL-backed
// service (WAN-Ninjas-AmityVox) does: pgx for direct access, no ORM,
// golang-migrate driving an embed.FS of plain SQL files. §5 notes the loop
// is single-threaded and the archive database is opened once at process
// start; no extra pooling tuning is needed beyond what pgxpool already
// provides.
package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// DB wraps the pool and the tables described in §6's Persisted State.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Open connects to databaseURL and runs pending migrations before
// returning, so the gateway never serves against a stale schema.
func Open(ctx context.Context, databaseURL string, logger zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{Pool: pool, logger: logger.With().Str("component", "store").Logger()}
	if err := db.migrate(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return fmt.Errorf("closing migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database: %w", dbErr)
	}
	db.logger.Info().Msg("schema migrations applied")
	return nil
}

// Close shuts the pool down.
func (db *DB) Close() {
	db.logger.Info().Msg("closing database connection pool")
	db.Pool.Close()
}

// HealthCheck runs a trivial round-trip query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var n int
	if err := db.Pool.QueryRow(ctx, "SELECT 1").Scan(&n); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}
