package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
)

// Progress is an absolute snapshot of run counters.
type Progress struct {
	Processed int
	Inserted  int
	Rejected  int
	Summary   domain.JobSummary
}

// Tracker owns the job record of one run. Every change is persisted before
// observers see it.
type Tracker struct {
	store     ports.ImportStore
	retry     retrier
	observers []ports.JobObserver
	job       domain.ImportJob
	now       func() time.Time
}

func newTracker(store ports.ImportStore, retry retrier, job domain.ImportJob, observers []ports.JobObserver) *Tracker {
	return &Tracker{
		store:     store,
		retry:     retry,
		observers: observers,
		job:       job,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Job returns the latest snapshot.
func (t *Tracker) Job() domain.ImportJob {
	return t.job
}

// Begin moves the job to PROCESSING.
func (t *Tracker) Begin(ctx context.Context) error {
	return t.update(ctx, func(job *domain.ImportJob) error {
		if err := checkTransition(job.Status, domain.JobProcessing); err != nil {
			return err
		}
		job.Status = domain.JobProcessing
		return nil
	})
}

// SetTotal records the candidate row count once known.
func (t *Tracker) SetTotal(ctx context.Context, total int) error {
	return t.update(ctx, func(job *domain.ImportJob) error {
		if job.Status != domain.JobProcessing {
			return fmt.Errorf("%w: set total while %s", ErrInvalidTransition, job.Status)
		}
		job.TotalRows = total
		return nil
	})
}

// Apply records counters after a batch.
func (t *Tracker) Apply(ctx context.Context, progress Progress) error {
	return t.update(ctx, func(job *domain.ImportJob) error {
		if job.Status != domain.JobProcessing {
			return fmt.Errorf("%w: progress while %s", ErrInvalidTransition, job.Status)
		}
		applyProgress(job, progress)
		return nil
	})
}

// Complete moves the job to COMPLETED.
func (t *Tracker) Complete(ctx context.Context, total int, progress Progress) error {
	return t.update(ctx, func(job *domain.ImportJob) error {
		if err := checkTransition(job.Status, domain.JobCompleted); err != nil {
			return err
		}
		applyProgress(job, progress)
		job.TotalRows = total
		job.Status = domain.JobCompleted
		finished := t.now()
		job.FinishedAt = &finished
		return nil
	})
}

// Fail moves the job to FAILED with a human-readable reason.
func (t *Tracker) Fail(ctx context.Context, progress Progress, cause error) error {
	return t.update(ctx, func(job *domain.ImportJob) error {
		if err := checkTransition(job.Status, domain.JobFailed); err != nil {
			return err
		}
		applyProgress(job, progress)
		job.Status = domain.JobFailed
		job.Error = cause.Error()
		finished := t.now()
		job.FinishedAt = &finished
		return nil
	})
}

func (t *Tracker) update(ctx context.Context, mutate func(job *domain.ImportJob) error) error {
	next := t.job
	if err := mutate(&next); err != nil {
		return err
	}
	next.UpdatedAt = t.now()

	if err := t.retry.do(ctx, "update_job", func(ctx context.Context) error {
		return t.store.UpdateJob(ctx, next)
	}); err != nil {
		return fmt.Errorf("persist job %s: %w", next.ID, err)
	}

	t.job = next
	t.notify(ctx)
	return nil
}

// adopt replaces the snapshot with the stored job. It is used when another
// process finished the job first.
func (t *Tracker) adopt(ctx context.Context) error {
	var stored domain.ImportJob
	if err := t.retry.do(ctx, "get_job", func(ctx context.Context) error {
		var err error
		stored, err = t.store.GetJob(ctx, t.job.ID)
		return err
	}); err != nil {
		return fmt.Errorf("reload job %s: %w", t.job.ID, err)
	}
	t.job = stored
	t.notify(ctx)
	return nil
}

func (t *Tracker) notify(ctx context.Context) {
	for _, observer := range t.observers {
		observer.JobChanged(ctx, t.job)
	}
}

func applyProgress(job *domain.ImportJob, progress Progress) {
	job.ProcessedRows = progress.Processed
	job.InsertedRows = progress.Inserted
	job.RejectedRows = progress.Rejected
	job.Summary = progress.Summary
}

func checkTransition(from, to domain.JobStatus) error {
	switch {
	case from == domain.JobPending && (to == domain.JobProcessing || to == domain.JobFailed):
		return nil
	case from == domain.JobProcessing && (to == domain.JobCompleted || to == domain.JobFailed):
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
}

func logJob(ctx context.Context, msg string, job domain.ImportJob, args ...any) {
	base := []any{
		"job_id", job.ID,
		"status", job.Status,
		"processed", job.ProcessedRows,
		"inserted", job.InsertedRows,
		"rejected", job.RejectedRows,
	}
	slog.InfoContext(ctx, msg, append(base, args...)...)
}
