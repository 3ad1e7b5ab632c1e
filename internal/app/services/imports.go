package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
	"github.com/fr0stylo/platesync/internal/ingest"
	"github.com/fr0stylo/platesync/internal/observability"
)

var (
	// ErrJobNotRunning indicates a cancel request for a job this process is not running.
	ErrJobNotRunning = errors.New("import job is not running")
	// ErrShuttingDown indicates the service no longer accepts runs.
	ErrShuttingDown = errors.New("import service is shutting down")
	// ErrCancelRequested is the cancellation cause of a user-requested stop.
	ErrCancelRequested = errors.New("cancelled by request")
)

// InterruptedReason is stored on jobs left unfinished by a previous process.
const InterruptedReason = "interrupted by restart"

// ImportTemplate is the sample file offered to uploaders.
const ImportTemplate = "plate_number,mv_file,dealer\nABC1234,123456789,TOYOTA\n"

// ImportCommand is transport-agnostic import input.
type ImportCommand struct {
	OfficeID int64
	UserID   string
	FileName string
	// Status is stamped on inserted records; empty uses the service default.
	Status string
	Mode   domain.ImportMode
}

// ImportService starts import runs and owns the cancel functions of the ones in flight.
type ImportService struct {
	pipeline      *ingest.Pipeline
	stores        ports.ImportStoreFactory
	initialStatus string

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewImportService creates an import service writing through stores.
func NewImportService(stores ports.ImportStoreFactory, opts ingest.Options, initialStatus string, observers ...ports.JobObserver) *ImportService {
	initialStatus = strings.ToUpper(strings.TrimSpace(initialStatus))
	if initialStatus == "" {
		initialStatus = "AVAILABLE"
	}
	return &ImportService{
		pipeline:      ingest.NewPipeline(stores, opts, observers...),
		stores:        stores,
		initialStatus: initialStatus,
		running:       make(map[string]context.CancelCauseFunc),
	}
}

// Import runs src to completion on the caller's goroutine.
func (s *ImportService) Import(ctx context.Context, src io.Reader, cmd ImportCommand) (ingest.Result, error) {
	run := s.runConfig(cmd)
	job, err := s.pipeline.Prepare(ctx, run)
	if err != nil {
		return ingest.Result{}, err
	}

	runCtx, cancel := context.WithCancelCause(observability.WithJobID(ctx, job.ID))
	if err := s.register(job.ID, cancel); err != nil {
		cancel(err)
		return s.pipeline.Execute(runCtx, job, src, run)
	}
	defer s.unregister(job.ID)
	defer cancel(nil)

	return s.pipeline.Execute(runCtx, job, src, run)
}

// StartImport persists the job and processes src in the background. src is
// closed when the run ends.
func (s *ImportService) StartImport(ctx context.Context, src io.ReadCloser, cmd ImportCommand) (domain.ImportJob, error) {
	run := s.runConfig(cmd)
	job, err := s.pipeline.Prepare(ctx, run)
	if err != nil {
		_ = src.Close()
		return domain.ImportJob{}, err
	}

	runCtx, cancel := context.WithCancelCause(observability.WithJobID(context.WithoutCancel(ctx), job.ID))
	if err := s.register(job.ID, cancel); err != nil {
		// Run with a cancelled context so the job still reaches FAILED.
		cancel(err)
		result, _ := s.pipeline.Execute(runCtx, job, src, run)
		_ = src.Close()
		return result.Job, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.unregister(job.ID)
		defer cancel(nil)
		defer func() {
			_ = src.Close()
		}()

		result, err := s.pipeline.Execute(runCtx, job, src, run)
		if err != nil {
			return
		}
		slog.InfoContext(runCtx, "import_async_finished",
			"job_id", result.Job.ID,
			"inserted", result.Job.InsertedRows,
			"rejected", result.Job.RejectedRows,
		)
	}()

	return job, nil
}

// Cancel stops a run of this process before its next batch.
func (s *ImportService) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	cancel, ok := s.running[jobID]
	s.mu.Unlock()
	if ok {
		cancel(ErrCancelRequested)
		slog.InfoContext(ctx, "import_cancel_requested", "job_id", jobID)
		return nil
	}

	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	return ErrJobNotRunning
}

// GetJob returns the persisted job snapshot.
func (s *ImportService) GetJob(ctx context.Context, jobID string) (domain.ImportJob, error) {
	store, err := s.stores.Open()
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("open import store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()
	return store.GetJob(ctx, jobID)
}

// WriteReport renders the persisted audit trail of a job to w.
func (s *ImportService) WriteReport(ctx context.Context, jobID string, w io.Writer) error {
	store, err := s.stores.Open()
	if err != nil {
		return fmt.Errorf("open import store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	entries, err := store.ListAudit(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list audit: %w", err)
	}
	return ingest.WriteReport(w, job, entries)
}

// CountRecords counts stored records; zero filter values match all.
func (s *ImportService) CountRecords(ctx context.Context, filter domain.RecordFilter) (int64, error) {
	store, err := s.stores.Open()
	if err != nil {
		return 0, fmt.Errorf("open import store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()
	filter.Status = strings.ToUpper(strings.TrimSpace(filter.Status))
	return store.CountRecords(ctx, filter)
}

// RecoverInterrupted fails PENDING or PROCESSING jobs that have not been
// updated for staleAfter. Runs of other live processes keep updating their
// jobs and are left alone.
func (s *ImportService) RecoverInterrupted(ctx context.Context, staleAfter time.Duration) (int64, error) {
	store, err := s.stores.Open()
	if err != nil {
		return 0, fmt.Errorf("open import store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	n, err := store.FailInterruptedJobs(ctx, InterruptedReason, time.Now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	if n > 0 {
		slog.WarnContext(ctx, "import_jobs_interrupted", "count", n, "stale_after", staleAfter)
	}
	return n, nil
}

// Running returns the ids of runs in flight.
func (s *ImportService) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every background run has finished.
func (s *ImportService) Wait() {
	s.wg.Wait()
}

// Shutdown refuses new runs, cancels the ones in flight and waits for them
// or for ctx.
func (s *ImportService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, cancel := range s.running {
		cancel(ErrShuttingDown)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ImportService) runConfig(cmd ImportCommand) ingest.RunConfig {
	status := strings.ToUpper(strings.TrimSpace(cmd.Status))
	if status == "" {
		status = s.initialStatus
	}
	return ingest.RunConfig{
		Partition:     cmd.OfficeID,
		InitialStatus: status,
		CreatedBy:     strings.TrimSpace(cmd.UserID),
		FileName:      strings.TrimSpace(cmd.FileName),
		Mode:          cmd.Mode,
	}
}

func (s *ImportService) register(jobID string, cancel context.CancelCauseFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	s.running[jobID] = cancel
	return nil
}

func (s *ImportService) unregister(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}
