package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
	"github.com/fr0stylo/platesync/internal/db/queries"
)

const (
	// Fixed-width so stored timestamps compare correctly as text.
	timeLayout      = "2006-01-02T15:04:05.000000000Z07:00"
	dealerAttribute = "dealer"
	dealerFallback  = "N/A"
	emptyAttributes = "{}"
)

type importDatabase interface {
	ExistingPlateNumbers(ctx context.Context, plateNumbers []string) ([]string, error)
	ExistingMvFiles(ctx context.Context, mvFiles []string) ([]string, error)
	CountPlates(ctx context.Context, officeID int64, status string) (int64, error)
	CreateImportJob(ctx context.Context, params queries.CreateImportJobParams) (queries.ImportJob, error)
	GetImportJob(ctx context.Context, id string) (queries.ImportJob, error)
	UpdateImportJob(ctx context.Context, params queries.UpdateImportJobParams) (int64, error)
	FailInterruptedImportJobs(ctx context.Context, params queries.FailInterruptedImportJobsParams) (int64, error)
	ListImportAuditLogs(ctx context.Context, jobID string) ([]queries.ImportAuditLog, error)
	WithTx(ctx context.Context, fn func(*queries.Queries) error) error
}

type importStore struct {
	db      importDatabase
	closeFn func() error
	now     func() time.Time
}

func newImportStore(database importDatabase, closeFn func() error) *importStore {
	return &importStore{db: database, closeFn: closeFn, now: func() time.Time { return time.Now().UTC() }}
}

func (s *importStore) ExistsAny(ctx context.Context, kind domain.KeyKind, keys []string) (map[string]struct{}, error) {
	var (
		found []string
		err   error
	)
	switch kind {
	case domain.KeyPrimary:
		found, err = s.db.ExistingPlateNumbers(ctx, keys)
	case domain.KeySecondary:
		found, err = s.db.ExistingMvFiles(ctx, keys)
	default:
		return nil, fmt.Errorf("unknown key kind %q", kind)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("exists %s keys: %w", kind, err))
	}
	out := make(map[string]struct{}, len(found))
	for _, key := range found {
		out[key] = struct{}{}
	}
	return out, nil
}

func (s *importStore) InsertBatchIfAbsent(ctx context.Context, rows []domain.ImportRow, meta domain.RecordMeta) (domain.WriteOutcome, error) {
	jobID := sql.NullString{String: meta.JobID, Valid: meta.JobID != ""}
	var outcome domain.WriteOutcome

	err := s.db.WithTx(ctx, func(q *queries.Queries) error {
		outcome = domain.WriteOutcome{}
		for _, row := range rows {
			attributes, err := encodeAttributes(row.Attributes)
			if err != nil {
				return fmt.Errorf("encode attributes line %d: %w", row.SourceLine, err)
			}
			dealer := row.Attributes[dealerAttribute]
			if dealer == "" {
				dealer = dealerFallback
			}

			affected, err := q.InsertPlateIfAbsent(ctx, queries.InsertPlateIfAbsentParams{
				PlateNumber:    row.PrimaryKey,
				MvFile:         row.SecondaryKey,
				Dealer:         dealer,
				AttributesJson: attributes,
				OfficeID:       meta.Partition,
				Status:         meta.Status,
				ImportJobID:    jobID,
				CreatedBy:      meta.CreatedBy,
			})
			if err != nil {
				return fmt.Errorf("insert plate line %d: %w", row.SourceLine, err)
			}
			if affected > 0 {
				outcome.Inserted++
				continue
			}

			existing, err := q.FindPlateConflict(ctx, queries.FindPlateConflictParams{
				PlateNumber: row.PrimaryKey,
				MvFile:      row.SecondaryKey,
			})
			if err != nil {
				return fmt.Errorf("resolve conflict line %d: %w", row.SourceLine, err)
			}
			kind := domain.KeySecondary
			if existing.PlateNumber == row.PrimaryKey {
				kind = domain.KeyPrimary
			}
			outcome.Conflicts = append(outcome.Conflicts, domain.Conflict{
				Row:    row,
				Kind:   kind,
				Reason: domain.ConflictAlreadyInStore,
			})
		}
		return nil
	})
	if err != nil {
		return domain.WriteOutcome{}, classify(err)
	}
	return outcome, nil
}

func (s *importStore) CreateJob(ctx context.Context, job domain.NewImportJob) (domain.ImportJob, error) {
	now := s.now().Format(timeLayout)
	row, err := s.db.CreateImportJob(ctx, queries.CreateImportJobParams{
		ID:        job.ID,
		OfficeID:  job.Partition,
		CreatedBy: job.CreatedBy,
		FileName:  job.FileName,
		Mode:      string(job.Mode),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.ImportJob{}, classify(fmt.Errorf("create import job: %w", err))
	}
	return toDomainJob(row), nil
}

func (s *importStore) UpdateJob(ctx context.Context, job domain.ImportJob) error {
	updatedAt := job.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	finishedAt := sql.NullString{}
	if job.FinishedAt != nil {
		finishedAt = sql.NullString{String: job.FinishedAt.UTC().Format(timeLayout), Valid: true}
	}
	truncated := int64(0)
	if job.Summary.AuditTruncated {
		truncated = 1
	}
	affected, err := s.db.UpdateImportJob(ctx, queries.UpdateImportJobParams{
		Status:              string(job.Status),
		TotalRows:           int64(job.TotalRows),
		ProcessedRows:       int64(job.ProcessedRows),
		InsertedRows:        int64(job.InsertedRows),
		RejectedRows:        int64(job.RejectedRows),
		RawRows:             int64(job.Summary.RawRows),
		SkippedRows:         int64(job.Summary.SkippedRows),
		FileDuplicates:      int64(job.Summary.FileDuplicates),
		StoreDuplicates:     int64(job.Summary.StoreDuplicates),
		ConcurrentConflicts: int64(job.Summary.ConcurrentConflicts),
		AuditTruncated:      truncated,
		Error:               job.Error,
		UpdatedAt:           updatedAt.UTC().Format(timeLayout),
		FinishedAt:          finishedAt,
		ID:                  job.ID,
	})
	if err != nil {
		return classify(fmt.Errorf("update import job: %w", err))
	}
	if affected == 0 {
		return fmt.Errorf("update import job %s: %w", job.ID, ports.ErrJobFinalized)
	}
	return nil
}

func (s *importStore) GetJob(ctx context.Context, id string) (domain.ImportJob, error) {
	row, err := s.db.GetImportJob(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ImportJob{}, ports.ErrJobNotFound
	}
	if err != nil {
		return domain.ImportJob{}, classify(fmt.Errorf("get import job: %w", err))
	}
	return toDomainJob(row), nil
}

func (s *importStore) AppendAudit(ctx context.Context, jobID string, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.WithTx(ctx, func(q *queries.Queries) error {
		for _, entry := range entries {
			if err := q.InsertImportAuditLog(ctx, queries.InsertImportAuditLogParams{
				JobID:        jobID,
				RowNumber:    int64(entry.SourceLine),
				PlateNumber:  entry.PrimaryKey,
				MvFile:       entry.SecondaryKey,
				ConflictType: string(entry.Reason),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return classify(fmt.Errorf("append audit: %w", err))
	}
	return nil
}

func (s *importStore) ListAudit(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.ListImportAuditLogs(ctx, jobID)
	if err != nil {
		return nil, classify(fmt.Errorf("list audit: %w", err))
	}
	entries := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.AuditEntry{
			SourceLine:   int(row.RowNumber),
			PrimaryKey:   row.PlateNumber,
			SecondaryKey: row.MvFile,
			Reason:       domain.ReasonCode(row.ConflictType),
		})
	}
	return entries, nil
}

func (s *importStore) CountRecords(ctx context.Context, filter domain.RecordFilter) (int64, error) {
	count, err := s.db.CountPlates(ctx, filter.Partition, filter.Status)
	if err != nil {
		return 0, classify(fmt.Errorf("count plates: %w", err))
	}
	return count, nil
}

func (s *importStore) FailInterruptedJobs(ctx context.Context, reason string, staleBefore time.Time) (int64, error) {
	now := s.now().Format(timeLayout)
	affected, err := s.db.FailInterruptedImportJobs(ctx, queries.FailInterruptedImportJobsParams{
		Error:       reason,
		UpdatedAt:   now,
		FinishedAt:  sql.NullString{String: now, Valid: true},
		UpdatedAt_2: staleBefore.UTC().Format(timeLayout),
	})
	if err != nil {
		return 0, classify(fmt.Errorf("fail interrupted jobs: %w", err))
	}
	return affected, nil
}

func (s *importStore) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

func toDomainJob(row queries.ImportJob) domain.ImportJob {
	job := domain.ImportJob{
		ID:            row.ID,
		Partition:     row.OfficeID,
		CreatedBy:     row.CreatedBy,
		FileName:      row.FileName,
		Mode:          domain.ImportMode(row.Mode),
		TotalRows:     int(row.TotalRows),
		ProcessedRows: int(row.ProcessedRows),
		InsertedRows:  int(row.InsertedRows),
		RejectedRows:  int(row.RejectedRows),
		Status:        domain.JobStatus(row.Status),
		Error:         row.Error,
		Summary: domain.JobSummary{
			RawRows:             int(row.RawRows),
			SkippedRows:         int(row.SkippedRows),
			FileDuplicates:      int(row.FileDuplicates),
			StoreDuplicates:     int(row.StoreDuplicates),
			ConcurrentConflicts: int(row.ConcurrentConflicts),
			AuditTruncated:      row.AuditTruncated != 0,
		},
		CreatedAt: parseTime(row.CreatedAt),
		UpdatedAt: parseTime(row.UpdatedAt),
	}
	if row.FinishedAt.Valid {
		finished := parseTime(row.FinishedAt.String)
		job.FinishedAt = &finished
	}
	return job
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func encodeAttributes(attributes map[string]string) (string, error) {
	if len(attributes) == 0 {
		return emptyAttributes, nil
	}
	raw, err := json.Marshal(attributes)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// classify marks SQLITE_BUSY and SQLITE_LOCKED failures as transient.
func classify(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", ports.ErrTransient, err)
		}
	}
	return err
}

var _ ports.ImportStore = (*importStore)(nil)
