// Package adapters selects the storage backend named by configuration.
package adapters

import (
	"context"
	"fmt"

	"github.com/fr0stylo/platesync/internal/adapters/postgres"
	"github.com/fr0stylo/platesync/internal/adapters/sqlite"
	"github.com/fr0stylo/platesync/internal/app/ports"
	"github.com/fr0stylo/platesync/internal/config"
	"github.com/fr0stylo/platesync/internal/db"
	"github.com/fr0stylo/platesync/internal/observability"
)

type database interface {
	QueryLatencyStats() []observability.QueryLatency
	Close() error
}

// Backend is an open store with its instrumentation.
type Backend struct {
	Driver string
	Stores ports.ImportStoreFactory
	db     database
}

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &Backend{Driver: cfg.Driver, Stores: postgres.NewImportStoreFactory(pg), db: pg}, nil
	case config.DriverSQLite, "":
		lite, err := db.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return &Backend{Driver: config.DriverSQLite, Stores: sqlite.NewSharedImportStoreFactory(lite), db: lite}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// QueryLatencyStats returns per-query latency samples, slowest first.
func (b *Backend) QueryLatencyStats() []observability.QueryLatency {
	return b.db.QueryLatencyStats()
}

// Close releases the database.
func (b *Backend) Close() error {
	return b.db.Close()
}
