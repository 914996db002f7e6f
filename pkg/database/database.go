// Package database wraps a pgx connection pool with production-ready
// configuration, mirroring the pooling and health-check conventions used
// elsewhere in this codebase for Redis (see pkg/cache).
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Database wraps a pgx connection pool for the event log store.
type Database struct {
	pool *pgxpool.Pool
}

// NewPool creates a new Postgres connection pool with production-ready
// settings and verifies connectivity via Ping.
func NewPool(ctx context.Context, dsn string) (*Database, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	// MaxConns: upper bound on pooled connections.
	cfg.MaxConns = 10

	// MinConns: connections kept warm even when idle.
	cfg.MinConns = 2

	// MaxConnLifetime: recycle connections periodically to avoid stale routes.
	cfg.MaxConnLifetime = 30 * time.Minute

	// MaxConnIdleTime: release idle connections back to Postgres.
	cfg.MaxConnIdleTime = 5 * time.Minute

	// HealthCheckPeriod: background liveness probe interval.
	cfg.HealthCheckPeriod = 1 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{pool: pool}, nil
}

// Ping checks the database connection health.
func (d *Database) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// Close gracefully shuts down the connection pool.
func (d *Database) Close() {
	d.pool.Close()
}

// Pool returns the underlying pgxpool.Pool for direct use.
func (d *Database) Pool() *pgxpool.Pool {
	return d.pool
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (d *Database) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}
