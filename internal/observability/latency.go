package observability

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const maxLatencySamples = 512

// QueryLatency summarizes the recent samples of one named query.
type QueryLatency struct {
	Name  string
	Count int
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// LatencyTracker keeps a sliding window of durations per query name.
type LatencyTracker struct {
	mu      sync.Mutex
	samples map[string][]time.Duration
}

func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{samples: make(map[string][]time.Duration)}
}

// Observe records one sample. A nil tracker ignores it.
func (t *LatencyTracker) Observe(name string, duration time.Duration) {
	if t == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "unknown"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	window := append(t.samples[name], duration)
	if len(window) > maxLatencySamples {
		window = window[len(window)-maxLatencySamples:]
	}
	t.samples[name] = window
}

// Snapshot returns per-query percentiles, slowest p95 first.
func (t *LatencyTracker) Snapshot() []QueryLatency {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stats := make([]QueryLatency, 0, len(t.samples))
	for name, durations := range t.samples {
		if len(durations) == 0 {
			continue
		}
		sorted := make([]time.Duration, len(durations))
		copy(sorted, durations)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		stats = append(stats, QueryLatency{
			Name:  name,
			Count: len(sorted),
			P50:   sorted[(len(sorted)-1)/2],
			P95:   sorted[int(float64(len(sorted)-1)*0.95)],
			Max:   sorted[len(sorted)-1],
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].P95 == stats[j].P95 {
			return stats[i].Name < stats[j].Name
		}
		return stats[i].P95 > stats[j].P95
	})
	return stats
}

// QueryName extracts X from a leading "-- name: X ..." comment.
func QueryName(query string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(query), "\n")
	first = strings.TrimSpace(first)
	if !strings.HasPrefix(first, "-- name:") {
		return "unknown"
	}
	parts := strings.Fields(first)
	if len(parts) < 3 {
		return "unknown"
	}
	return parts[2]
}
