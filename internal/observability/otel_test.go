package observability

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestSetupOpenTelemetryDisabledIsNoop(t *testing.T) {
	t.Parallel()

	shutdown, err := SetupOpenTelemetry(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), OpenTelemetryConfig{})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestImportResourceNamesServiceAndBackend(t *testing.T) {
	t.Parallel()

	res, err := importResource(context.Background(), OpenTelemetryConfig{StoreBackend: "postgres"})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	set := res.Set()
	if v, ok := set.Value(semconv.ServiceNamespaceKey); !ok || v.AsString() != serviceNamespace {
		t.Fatalf("unexpected namespace: %v", v)
	}
	if v, ok := set.Value(attribute.Key(storeBackendAttribute)); !ok || v.AsString() != "postgres" {
		t.Fatalf("unexpected backend: %v", v)
	}
	if _, ok := set.Value(semconv.ServiceVersionKey); ok {
		t.Fatalf("empty version should not be recorded")
	}
}

func TestBatchDurationUsesImportBuckets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	res, err := importResource(ctx, OpenTelemetryConfig{})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	reader := sdkmetric.NewManualReader()
	provider := newImportMeterProvider(res, reader)
	defer func() { _ = provider.Shutdown(ctx) }()

	histogram, err := provider.Meter(ImportMeterName).Float64Histogram(BatchDurationInstrument)
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	histogram.Record(ctx, 0.003)

	var collected metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &collected); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(collected.ScopeMetrics) != 1 || len(collected.ScopeMetrics[0].Metrics) != 1 {
		t.Fatalf("unexpected metrics: %+v", collected.ScopeMetrics)
	}
	data, ok := collected.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[float64])
	if !ok || len(data.DataPoints) != 1 {
		t.Fatalf("unexpected data: %+v", collected.ScopeMetrics[0].Metrics[0].Data)
	}
	want := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	if !reflect.DeepEqual(data.DataPoints[0].Bounds, want) {
		t.Fatalf("unexpected bounds: %v", data.DataPoints[0].Bounds)
	}
	if data.DataPoints[0].BucketCounts[1] != 1 {
		t.Fatalf("3ms should land in the 5ms bucket: %v", data.DataPoints[0].BucketCounts)
	}
}

func TestConfiguredSamplerClampsRatio(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		-1:  "ParentBased{root:AlwaysOffSampler",
		0.5: "ParentBased{root:TraceIDRatioBased{0.5}",
		2:   "ParentBased{root:AlwaysOnSampler",
	}
	for ratio, prefix := range cases {
		got := configuredSampler(ratio).Description()
		if !strings.HasPrefix(got, prefix) {
			t.Fatalf("ratio %v: got=%q want prefix %q", ratio, got, prefix)
		}
	}
}
