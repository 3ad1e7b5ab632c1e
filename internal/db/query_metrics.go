package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/fr0stylo/platesync/internal/db/queries"
	"github.com/fr0stylo/platesync/internal/observability"
)

const dbSystem = "sqlite"

type instrumentedDBTX struct {
	inner   queries.DBTX
	tracker *observability.LatencyTracker
}

// newInstrumentedDBTX wraps inner so every sqlc statement gets a span and a latency sample.
func newInstrumentedDBTX(inner queries.DBTX, tracker *observability.LatencyTracker) queries.DBTX {
	if tracker == nil {
		return inner
	}
	return &instrumentedDBTX{inner: inner, tracker: tracker}
}

func (d *instrumentedDBTX) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	name := observability.QueryName(query)
	ctx, span := observability.StartDBSpan(ctx, dbSystem, name, "exec")
	defer span.End()

	start := time.Now()
	result, err := d.inner.ExecContext(ctx, query, args...)
	d.tracker.Observe(name, time.Since(start))
	span.RecordError(err)
	return result, err
}

func (d *instrumentedDBTX) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	name := observability.QueryName(query)
	ctx, span := observability.StartDBSpan(ctx, dbSystem, name, "prepare")
	defer span.End()

	start := time.Now()
	stmt, err := d.inner.PrepareContext(ctx, query)
	d.tracker.Observe(name, time.Since(start))
	span.RecordError(err)
	return stmt, err
}

func (d *instrumentedDBTX) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	name := observability.QueryName(query)
	ctx, span := observability.StartDBSpan(ctx, dbSystem, name, "query")
	defer span.End()

	start := time.Now()
	rows, err := d.inner.QueryContext(ctx, query, args...)
	d.tracker.Observe(name, time.Since(start))
	span.RecordError(err)
	return rows, err
}

func (d *instrumentedDBTX) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	name := observability.QueryName(query)
	ctx, span := observability.StartDBSpan(ctx, dbSystem, name, "query_row")
	start := time.Now()
	row := d.inner.QueryRowContext(ctx, query, args...)
	d.tracker.Observe(name, time.Since(start))
	span.End()
	return row
}
