package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/observability"
)

type ingestMetrics struct {
	rows     metric.Int64Counter
	rejected metric.Int64Counter
	batches  metric.Int64Counter
	retries  metric.Int64Counter
	jobs     metric.Int64Counter
	duration metric.Float64Histogram
}

func newIngestMetrics() ingestMetrics {
	meter := otel.Meter(observability.ImportMeterName)
	rows, _ := meter.Int64Counter("platesync.import.rows")
	rejected, _ := meter.Int64Counter("platesync.import.rejected")
	batches, _ := meter.Int64Counter("platesync.import.batches")
	retries, _ := meter.Int64Counter("platesync.import.retries")
	jobs, _ := meter.Int64Counter("platesync.import.jobs")
	duration, _ := meter.Float64Histogram(observability.BatchDurationInstrument, metric.WithUnit("s"))
	return ingestMetrics{
		rows:     rows,
		rejected: rejected,
		batches:  batches,
		retries:  retries,
		jobs:     jobs,
		duration: duration,
	}
}

func (m ingestMetrics) recordBatch(ctx context.Context, mode domain.ImportMode, inserted int, elapsed time.Duration) {
	if m.batches == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", string(mode)))
	m.batches.Add(ctx, 1, attrs)
	m.rows.Add(ctx, int64(inserted), attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m ingestMetrics) recordRejected(ctx context.Context, reason domain.ReasonCode, n int) {
	if m.rejected == nil || n == 0 {
		return
	}
	m.rejected.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (m ingestMetrics) recordRetry(ctx context.Context, op string) {
	if m.retries == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m ingestMetrics) recordJob(ctx context.Context, status domain.JobStatus) {
	if m.jobs == nil {
		return
	}
	m.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}
