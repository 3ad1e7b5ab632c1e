package observability

import (
	"testing"
	"time"
)

func TestLatencyTrackerOrdersBySlowestP95(t *testing.T) {
	t.Parallel()

	tracker := NewLatencyTracker()
	for i := 1; i <= 10; i++ {
		tracker.Observe("ExistingPlateNumbers", time.Duration(i)*time.Millisecond)
	}
	tracker.Observe("InsertPlateIfAbsent", 40*time.Millisecond)
	tracker.Observe(" ", time.Millisecond)

	stats := tracker.Snapshot()
	if len(stats) != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats[0].Name != "InsertPlateIfAbsent" {
		t.Fatalf("expected slowest query first, got %q", stats[0].Name)
	}
	if stats[1].Count != 10 || stats[1].P50 != 5*time.Millisecond || stats[1].Max != 10*time.Millisecond {
		t.Fatalf("unexpected percentiles: %+v", stats[1])
	}
	if stats[2].Name != "unknown" {
		t.Fatalf("blank names should fold into unknown, got %q", stats[2].Name)
	}
}

func TestLatencyTrackerKeepsBoundedWindow(t *testing.T) {
	t.Parallel()

	tracker := NewLatencyTracker()
	for i := 0; i < maxLatencySamples+100; i++ {
		tracker.Observe("UpdateImportJob", time.Microsecond)
	}
	if got := tracker.Snapshot()[0].Count; got != maxLatencySamples {
		t.Fatalf("unexpected window size: got=%d want=%d", got, maxLatencySamples)
	}

	var nilTracker *LatencyTracker
	nilTracker.Observe("ignored", time.Second)
	if nilTracker.Snapshot() != nil {
		t.Fatal("nil tracker should report nothing")
	}
}

func TestQueryName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"-- name: CountPlates :one\nSELECT 1":   "CountPlates",
		"\n  -- name: ListAudit :many\nSELECT 1": "ListAudit",
		"SELECT 1":                                "unknown",
		"-- name:":                                "unknown",
	}
	for query, want := range cases {
		if got := QueryName(query); got != want {
			t.Fatalf("QueryName(%q) = %q, want %q", query, got, want)
		}
	}
}
