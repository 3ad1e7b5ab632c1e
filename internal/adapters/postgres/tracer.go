package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fr0stylo/platesync/internal/observability"
)

const dbSystem = "postgresql"

type traceKey struct{}

type traceState struct {
	name  string
	start time.Time
	span  observability.Span
}

// queryTracer gives every named statement a span and a latency sample.
type queryTracer struct {
	tracker *observability.LatencyTracker
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	name := observability.QueryName(data.SQL)
	ctx, span := observability.StartDBSpan(ctx, dbSystem, name, "query")
	return context.WithValue(ctx, traceKey{}, &traceState{name: name, start: time.Now(), span: span})
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	state, ok := ctx.Value(traceKey{}).(*traceState)
	if !ok {
		return
	}
	t.tracker.Observe(state.name, time.Since(state.start))
	state.span.RecordError(data.Err)
	state.span.End()
}

var _ pgx.QueryTracer = (*queryTracer)(nil)
