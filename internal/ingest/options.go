package ingest

import "time"

const (
	DefaultBatchSize       = 500
	MaxBatchSize           = 5000
	DefaultChunkSize       = 64 << 10
	DefaultMaxBoundedBytes = 64 << 20
	DefaultAuditCap        = 20000
	DefaultMaxRetries      = 3
	DefaultRetryBase       = 200 * time.Millisecond
	DefaultRetryCap        = 5 * time.Second
	DefaultCallTimeout     = 30 * time.Second
)

// Columns names the input columns that feed a record.
type Columns struct {
	Primary   string
	Secondary string
	Auxiliary []string
	// Placeholder replaces blank auxiliary values.
	Placeholder string
}

// DefaultColumns returns the plate registry layout.
func DefaultColumns() Columns {
	return Columns{
		Primary:     "plate_number",
		Secondary:   "mv_file",
		Auxiliary:   []string{"dealer"},
		Placeholder: "N/A",
	}
}

// RetryPolicy bounds retries of transient store failures.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
}

// Options tunes a Pipeline.
type Options struct {
	BatchSize       int
	ChunkSize       int
	MaxBoundedBytes int64
	Precheck        bool
	AuditCap        int
	Retry           RetryPolicy
	CallTimeout     time.Duration
	Columns         Columns
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:       DefaultBatchSize,
		ChunkSize:       DefaultChunkSize,
		MaxBoundedBytes: DefaultMaxBoundedBytes,
		Precheck:        true,
		AuditCap:        DefaultAuditCap,
		Retry: RetryPolicy{
			MaxRetries: DefaultMaxRetries,
			Base:       DefaultRetryBase,
			Cap:        DefaultRetryCap,
		},
		CallTimeout: DefaultCallTimeout,
		Columns:     DefaultColumns(),
	}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchSize > MaxBatchSize {
		o.BatchSize = MaxBatchSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxBoundedBytes <= 0 {
		o.MaxBoundedBytes = DefaultMaxBoundedBytes
	}
	if o.AuditCap <= 0 {
		o.AuditCap = DefaultAuditCap
	}
	if o.Retry.MaxRetries < 0 {
		o.Retry.MaxRetries = 0
	}
	if o.Retry.Base <= 0 {
		o.Retry.Base = DefaultRetryBase
	}
	if o.Retry.Cap < o.Retry.Base {
		o.Retry.Cap = o.Retry.Base
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Columns.Primary == "" && o.Columns.Secondary == "" {
		o.Columns = DefaultColumns()
	}
	return o
}
