package db

import "github.com/fr0stylo/platesync/internal/observability"

// QueryLatencyStats returns current per-query latency distribution samples.
func (c *Database) QueryLatencyStats() []observability.QueryLatency {
	if c == nil {
		return nil
	}
	return c.tracker.Snapshot()
}
