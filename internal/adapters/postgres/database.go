package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/fr0stylo/platesync/internal/observability"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Database owns the pgx pool and its query latency samples.
type Database struct {
	pool    *pgxpool.Pool
	tracker *observability.LatencyTracker
}

// Connect opens a traced pgx pool for dsn and applies the embedded migrations.
func Connect(ctx context.Context, dsn string) (*Database, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	tracker := observability.NewLatencyTracker()
	cfg.ConnConfig.Tracer = &queryTracer{tracker: tracker}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Database{pool: pool, tracker: tracker}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, sub)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// QueryLatencyStats returns current per-query latency distribution samples.
func (d *Database) QueryLatencyStats() []observability.QueryLatency {
	if d == nil {
		return nil
	}
	return d.tracker.Snapshot()
}

// Close releases the pool.
func (d *Database) Close() error {
	if d != nil && d.pool != nil {
		d.pool.Close()
	}
	return nil
}
