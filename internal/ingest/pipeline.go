package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
)

const lineBuffer = 1024

// RunConfig carries the caller-scoped values of one run.
type RunConfig struct {
	// JobID is generated when empty.
	JobID         string
	Partition     int64
	InitialStatus string
	CreatedBy     string
	FileName      string
	Mode          domain.ImportMode
}

// Result is the final state of a run.
type Result struct {
	Job    domain.ImportJob
	Report *AuditReport
}

// Pipeline reconciles delimited input against the store in sequential batches.
type Pipeline struct {
	stores    ports.ImportStoreFactory
	opts      Options
	observers []ports.JobObserver
	metrics   ingestMetrics
	newID     func() string
}

// NewPipeline creates a pipeline writing through stores.
func NewPipeline(stores ports.ImportStoreFactory, opts Options, observers ...ports.JobObserver) *Pipeline {
	return &Pipeline{
		stores:    stores,
		opts:      opts.withDefaults(),
		observers: observers,
		metrics:   newIngestMetrics(),
		newID:     uuid.NewString,
	}
}

// Run creates the job record and processes src to completion.
func (p *Pipeline) Run(ctx context.Context, src io.Reader, run RunConfig) (Result, error) {
	job, err := p.Prepare(ctx, run)
	if err != nil {
		return Result{}, err
	}
	return p.Execute(ctx, job, src, run)
}

// Prepare persists a PENDING job so callers can hand out its id before the run starts.
func (p *Pipeline) Prepare(ctx context.Context, run RunConfig) (domain.ImportJob, error) {
	store, err := p.stores.Open()
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("open import store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	id := run.JobID
	if id == "" {
		id = p.newID()
	}
	mode := run.Mode
	if mode == "" {
		mode = domain.ModeStreaming
	}

	var job domain.ImportJob
	err = p.retrier().do(ctx, "create_job", func(ctx context.Context) error {
		var err error
		job, err = store.CreateJob(ctx, domain.NewImportJob{
			ID:        id,
			Partition: run.Partition,
			CreatedBy: run.CreatedBy,
			FileName:  run.FileName,
			Mode:      mode,
		})
		return err
	})
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("create import job: %w", err)
	}
	for _, observer := range p.observers {
		observer.JobChanged(ctx, job)
	}
	return job, nil
}

// Execute processes src for a prepared job. A failed run returns *RunError
// together with the final job snapshot.
func (p *Pipeline) Execute(ctx context.Context, job domain.ImportJob, src io.Reader, run RunConfig) (Result, error) {
	store, err := p.stores.Open()
	if err != nil {
		job.Status = domain.JobFailed
		runErr := &RunError{JobID: job.ID, Err: fmt.Errorf("open import store: %w", err)}
		job.Error = runErr.Error()
		return Result{Job: job, Report: NewAuditReport(p.opts.AuditCap)}, runErr
	}
	defer func() {
		_ = store.Close()
	}()

	if run.Mode == "" {
		run.Mode = job.Mode
	}
	r := p.newRunState(store, job, run)
	return r.execute(ctx, src)
}

func (p *Pipeline) retrier() retrier {
	return retrier{policy: p.opts.Retry, timeout: p.opts.CallTimeout, metrics: p.metrics}
}

type runState struct {
	opts       Options
	run        RunConfig
	meta       domain.RecordMeta
	store      ports.ImportStore
	retry      retrier
	tracker    *Tracker
	prechecker *Prechecker
	writer     *BatchWriter
	dedup      *Deduplicator
	report     *AuditReport
	metrics    ingestMetrics

	normalizer  *Normalizer
	pending     []domain.ImportRow
	fileRejects []domain.AuditEntry
	batch       int
	inFlight    int
	candidates  int
	progress    Progress
}

func (p *Pipeline) newRunState(store ports.ImportStore, job domain.ImportJob, run RunConfig) *runState {
	retry := p.retrier()
	return &runState{
		opts: p.opts,
		run:  run,
		meta: domain.RecordMeta{
			JobID:     job.ID,
			Partition: run.Partition,
			Status:    run.InitialStatus,
			CreatedBy: run.CreatedBy,
		},
		store:      store,
		retry:      retry,
		tracker:    newTracker(store, retry, job, p.observers),
		prechecker: &Prechecker{store: store, retry: retry},
		writer:     &BatchWriter{store: store, retry: retry},
		dedup:      NewDeduplicator(),
		report:     NewAuditReport(p.opts.AuditCap),
		metrics:    p.metrics,
	}
}

func (r *runState) execute(ctx context.Context, src io.Reader) (Result, error) {
	persistCtx := context.WithoutCancel(ctx)
	if err := r.tracker.Begin(persistCtx); err != nil {
		return r.abort(ctx, err)
	}
	logJob(ctx, "import_job_started", r.tracker.Job(), "mode", r.run.Mode, "batch_size", r.opts.BatchSize)

	var err error
	if r.run.Mode == domain.ModeBounded {
		err = r.consumeBounded(ctx, src)
	} else {
		err = r.consumeStreaming(ctx, src)
	}
	if err == nil {
		err = r.flush(ctx)
	}
	if err == nil && ctx.Err() != nil {
		err = cancelled(ctx)
	}
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			err = cancelled(ctx)
		}
		return r.abort(ctx, err)
	}

	if err := r.tracker.Complete(persistCtx, r.candidates, r.progress); err != nil {
		return r.abort(ctx, err)
	}
	r.metrics.recordJob(persistCtx, domain.JobCompleted)
	logJob(ctx, "import_job_completed", r.tracker.Job(), "batches", r.batch)
	return Result{Job: r.tracker.Job(), Report: r.report}, nil
}

func (r *runState) consumeBounded(ctx context.Context, src io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(src, r.opts.MaxBoundedBytes+1))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadInput, err)
	}
	if int64(len(data)) > r.opts.MaxBoundedBytes {
		return fmt.Errorf("%w: limit %d bytes", ErrInputTooLarge, r.opts.MaxBoundedBytes)
	}

	var (
		rows     []domain.ImportRow
		splitter lineSplitter
	)
	collect := func(line int, text string) error {
		row, ok, err := r.ingestLine(line, text)
		if ok {
			rows = append(rows, row)
		}
		return err
	}
	if err := splitter.feed(data, collect); err != nil {
		return err
	}
	if err := splitter.flush(collect); err != nil {
		return err
	}
	if r.normalizer == nil {
		return ErrEmptyInput
	}

	if err := r.tracker.SetTotal(context.WithoutCancel(ctx), len(rows)); err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.admit(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type sourceLine struct {
	number int
	text   string
}

func (r *runState) consumeStreaming(ctx context.Context, src io.Reader) error {
	g, gctx := errgroup.WithContext(ctx)
	lines := make(chan sourceLine, lineBuffer)

	g.Go(func() error {
		defer close(lines)
		return readLines(src, r.opts.ChunkSize, func(line int, text string) error {
			select {
			case lines <- sourceLine{number: line, text: text}:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	g.Go(func() error {
		for line := range lines {
			if gctx.Err() != nil {
				return nil
			}
			row, ok, err := r.ingestLine(line.number, line.text)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := r.admit(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	if r.normalizer == nil {
		return ErrEmptyInput
	}
	return nil
}

// ingestLine parses and normalizes one non-blank line. The first line is the header.
func (r *runState) ingestLine(line int, text string) (domain.ImportRow, bool, error) {
	record, parseErr := parseRecord(text)
	if r.normalizer == nil {
		if parseErr != nil {
			return domain.ImportRow{}, false, fmt.Errorf("header: %w", parseErr)
		}
		normalizer := NewNormalizer(NewHeader(record, r.opts.Columns), r.opts.Columns)
		r.normalizer = &normalizer
		return domain.ImportRow{}, false, nil
	}

	r.progress.Summary.RawRows++
	if parseErr != nil {
		r.skip(line, parseErr)
		return domain.ImportRow{}, false, nil
	}
	row, err := r.normalizer.Normalize(record, line)
	if err != nil {
		r.skip(line, err)
		return domain.ImportRow{}, false, nil
	}
	return row, true, nil
}

func (r *runState) skip(line int, reason error) {
	r.progress.Summary.SkippedRows++
	slog.Debug("import_row_skipped", "job_id", r.meta.JobID, "line", line, "error", reason)
}

func (r *runState) admit(ctx context.Context, row domain.ImportRow) error {
	r.candidates++
	if reason, ok := r.dedup.Admit(row); !ok {
		r.fileRejects = append(r.fileRejects, domain.NewAuditEntry(row, reason))
	} else {
		r.pending = append(r.pending, row)
	}
	if len(r.pending) >= r.opts.BatchSize || len(r.fileRejects) >= r.opts.BatchSize {
		return r.flush(ctx)
	}
	return nil
}

// flush submits pending rows as one batch. Cancellation is honoured only here,
// before the batch starts; store calls inside a batch ignore it.
func (r *runState) flush(ctx context.Context) error {
	if len(r.pending) == 0 && len(r.fileRejects) == 0 {
		return nil
	}
	if ctx.Err() != nil {
		return cancelled(ctx)
	}

	callCtx := context.WithoutCancel(ctx)
	started := time.Now()
	rows, rejects := r.pending, r.fileRejects
	r.pending, r.fileRejects = nil, nil
	fileDuplicates := len(rejects)
	inserted := 0

	if len(rows) > 0 {
		r.batch++
		r.inFlight = r.batch

		kept, prechecked := rows, false
		if r.opts.Precheck {
			var (
				duplicates []domain.AuditEntry
				err        error
			)
			kept, duplicates, err = r.prechecker.Check(callCtx, rows)
			if err != nil {
				return err
			}
			prechecked = true
			rejects = append(rejects, duplicates...)
			r.progress.Summary.StoreDuplicates += len(duplicates)
		}

		outcome, err := r.writer.Write(callCtx, kept, r.meta, prechecked)
		if err != nil {
			return err
		}
		inserted = outcome.Inserted
		r.progress.Inserted += inserted
		for _, conflict := range outcome.Conflicts {
			reason := conflict.AuditReason()
			rejects = append(rejects, domain.NewAuditEntry(conflict.Row, reason))
			if reason == domain.ReasonConcurrentConflict {
				r.progress.Summary.ConcurrentConflicts++
			} else {
				r.progress.Summary.StoreDuplicates++
			}
		}
	}

	r.progress.Summary.FileDuplicates += fileDuplicates
	r.progress.Processed += len(rows) + fileDuplicates
	r.progress.Rejected += len(rejects)

	retained := r.report.Add(rejects...)
	r.progress.Summary.AuditTruncated = r.report.Truncated()
	if len(retained) > 0 {
		if err := r.retry.do(callCtx, "append_audit", func(ctx context.Context) error {
			return r.store.AppendAudit(ctx, r.meta.JobID, retained)
		}); err != nil {
			return err
		}
	}

	if err := r.tracker.Apply(callCtx, r.progress); err != nil {
		return err
	}

	for _, reason := range []domain.ReasonCode{
		domain.ReasonFileDuplicatePrimary,
		domain.ReasonFileDuplicateSecondary,
		domain.ReasonStoreDuplicate,
		domain.ReasonConcurrentConflict,
	} {
		r.metrics.recordRejected(callCtx, reason, countReason(rejects, reason))
	}
	r.metrics.recordBatch(callCtx, r.run.Mode, inserted, time.Since(started))
	slog.Debug("import_batch_flushed",
		"job_id", r.meta.JobID,
		"batch", r.batch,
		"rows", len(rows),
		"rejected", len(rejects),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	r.inFlight = 0
	return nil
}

func (r *runState) abort(ctx context.Context, cause error) (Result, error) {
	persistCtx := context.WithoutCancel(ctx)
	runErr := &RunError{
		JobID:     r.meta.JobID,
		Batch:     r.inFlight,
		Committed: r.progress.Inserted,
		Err:       cause,
	}

	if err := r.tracker.Fail(persistCtx, r.progress, runErr); err != nil {
		if !errors.Is(err, ports.ErrJobFinalized) {
			slog.ErrorContext(ctx, "import_job_fail_persist_failed", "job_id", r.meta.JobID, "error", err)
		} else if err := r.tracker.adopt(persistCtx); err != nil {
			slog.ErrorContext(ctx, "import_job_reload_failed", "job_id", r.meta.JobID, "error", err)
		} else {
			slog.WarnContext(ctx, "import_job_finished_elsewhere", "job_id", r.meta.JobID, "status", r.tracker.Job().Status)
		}
	}
	job := r.tracker.Job()
	if job.Status != domain.JobFailed {
		applyProgress(&job, r.progress)
		job.Status = domain.JobFailed
		job.Error = runErr.Error()
	}

	r.metrics.recordJob(persistCtx, domain.JobFailed)
	slog.ErrorContext(ctx, "import_job_failed",
		"job_id", job.ID,
		"batch", runErr.Batch,
		"committed", runErr.Committed,
		"error", cause,
	)
	return Result{Job: job, Report: r.report}, runErr
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}

func countReason(entries []domain.AuditEntry, reason domain.ReasonCode) int {
	n := 0
	for _, entry := range entries {
		if entry.Reason == reason {
			n++
		}
	}
	return n
}
