package ports

import (
	"context"
	"errors"
	"time"

	"github.com/fr0stylo/platesync/internal/app/domain"
)

var (
	// ErrJobNotFound is returned when an import job id is unknown.
	ErrJobNotFound = errors.New("import job not found")
	// ErrTransient marks store failures that may succeed when retried.
	ErrTransient = errors.New("transient store error")
	// ErrJobFinalized is returned by UpdateJob when the stored job is missing or
	// already COMPLETED or FAILED.
	ErrJobFinalized = errors.New("import job already finished")
)

// ImportStore is the storage contract needed by the ingestion pipeline.
type ImportStore interface {
	// ExistsAny returns the subset of keys already present for the given key kind.
	ExistsAny(ctx context.Context, kind domain.KeyKind, keys []string) (map[string]struct{}, error)
	// InsertBatchIfAbsent inserts every row whose keys are both free, atomically per call.
	InsertBatchIfAbsent(ctx context.Context, rows []domain.ImportRow, meta domain.RecordMeta) (domain.WriteOutcome, error)
	CreateJob(ctx context.Context, job domain.NewImportJob) (domain.ImportJob, error)
	// UpdateJob overwrites a non-terminal job; a terminal stored job yields ErrJobFinalized.
	UpdateJob(ctx context.Context, job domain.ImportJob) error
	GetJob(ctx context.Context, id string) (domain.ImportJob, error)
	AppendAudit(ctx context.Context, jobID string, entries []domain.AuditEntry) error
	ListAudit(ctx context.Context, jobID string) ([]domain.AuditEntry, error)
	CountRecords(ctx context.Context, filter domain.RecordFilter) (int64, error)
	// FailInterruptedJobs marks non-terminal jobs last updated before staleBefore failed with reason.
	FailInterruptedJobs(ctx context.Context, reason string, staleBefore time.Time) (int64, error)
	Close() error
}

// ImportStoreFactory creates run-scoped import stores.
type ImportStoreFactory interface {
	Open() (ImportStore, error)
}

// JobObserver receives every persisted job snapshot.
type JobObserver interface {
	JobChanged(ctx context.Context, job domain.ImportJob)
}

// JobObserverFunc adapts a function to JobObserver.
type JobObserverFunc func(ctx context.Context, job domain.ImportJob)

// JobChanged calls f.
func (f JobObserverFunc) JobChanged(ctx context.Context, job domain.ImportJob) {
	f(ctx, job)
}
