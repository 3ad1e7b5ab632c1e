package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
)

const (
	dealerAttribute = "dealer"
	dealerFallback  = "N/A"
)

// ImportStoreFactory hands out stores sharing one pool.
type ImportStoreFactory struct {
	db *Database
}

// NewImportStoreFactory creates a factory over an open database; stores never close it.
func NewImportStoreFactory(db *Database) *ImportStoreFactory {
	return &ImportStoreFactory{db: db}
}

// Open returns a store bound to the shared pool.
func (f *ImportStoreFactory) Open() (ports.ImportStore, error) {
	if f.db == nil || f.db.pool == nil {
		return nil, errors.New("postgres pool is not configured")
	}
	return &importStore{pool: f.db.pool}, nil
}

type importStore struct {
	pool *pgxpool.Pool
}

func (s *importStore) ExistsAny(ctx context.Context, kind domain.KeyKind, keys []string) (map[string]struct{}, error) {
	var query string
	switch kind {
	case domain.KeyPrimary:
		query = existingPlateNumbers
	case domain.KeySecondary:
		query = existingMvFiles
	default:
		return nil, fmt.Errorf("unknown key kind %q", kind)
	}
	out := make(map[string]struct{})
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, classify(fmt.Errorf("exists %s keys: %w", kind, err))
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify(fmt.Errorf("exists %s keys: %w", kind, err))
	}
	for _, key := range found {
		out[key] = struct{}{}
	}
	return out, nil
}

func (s *importStore) InsertBatchIfAbsent(ctx context.Context, rows []domain.ImportRow, meta domain.RecordMeta) (domain.WriteOutcome, error) {
	if len(rows) == 0 {
		return domain.WriteOutcome{}, nil
	}

	plates := make([]string, len(rows))
	mvFiles := make([]string, len(rows))
	dealers := make([]string, len(rows))
	attributes := make([]string, len(rows))
	for i, row := range rows {
		plates[i] = row.PrimaryKey
		mvFiles[i] = row.SecondaryKey
		dealers[i] = lo.CoalesceOrEmpty(row.Attributes[dealerAttribute], dealerFallback)
		raw, err := json.Marshal(lo.Ternary(row.Attributes == nil, map[string]string{}, row.Attributes))
		if err != nil {
			return domain.WriteOutcome{}, fmt.Errorf("encode attributes line %d: %w", row.SourceLine, err)
		}
		attributes[i] = string(raw)
	}

	var jobID *string
	if meta.JobID != "" {
		jobID = &meta.JobID
	}

	var outcome domain.WriteOutcome
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inserted, err := tx.Query(ctx, insertPlatesIfAbsent, plates, mvFiles, dealers, attributes, meta.Partition, meta.Status, jobID, meta.CreatedBy)
		if err != nil {
			return err
		}
		insertedPlates, err := pgx.CollectRows(inserted, pgx.RowTo[string])
		if err != nil {
			return err
		}

		written := lo.SliceToMap(insertedPlates, func(plate string) (string, struct{}) { return plate, struct{}{} })
		refused := lo.Filter(rows, func(row domain.ImportRow, _ int) bool {
			_, ok := written[row.PrimaryKey]
			return !ok
		})
		outcome = domain.WriteOutcome{Inserted: len(insertedPlates)}
		if len(refused) == 0 {
			return nil
		}

		existing, err := tx.Query(ctx, existingPlateNumbers,
			lo.Map(refused, func(row domain.ImportRow, _ int) string { return row.PrimaryKey }))
		if err != nil {
			return err
		}
		existingPlates, err := pgx.CollectRows(existing, pgx.RowTo[string])
		if err != nil {
			return err
		}
		primaryTaken := lo.SliceToMap(existingPlates, func(plate string) (string, struct{}) { return plate, struct{}{} })

		for _, row := range refused {
			kind := domain.KeySecondary
			if _, ok := primaryTaken[row.PrimaryKey]; ok {
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
		return domain.WriteOutcome{}, classify(fmt.Errorf("insert batch: %w", err))
	}
	return outcome, nil
}

func (s *importStore) CreateJob(ctx context.Context, job domain.NewImportJob) (domain.ImportJob, error) {
	row := s.pool.QueryRow(ctx, createImportJob, job.ID, job.Partition, job.CreatedBy, job.FileName, string(job.Mode))
	created, err := scanJob(row)
	if err != nil {
		return domain.ImportJob{}, classify(fmt.Errorf("create import job: %w", err))
	}
	return created, nil
}

func (s *importStore) UpdateJob(ctx context.Context, job domain.ImportJob) error {
	updatedAt := job.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, updateImportJob,
		job.ID, string(job.Status), job.TotalRows, job.ProcessedRows, job.InsertedRows, job.RejectedRows,
		job.Summary.RawRows, job.Summary.SkippedRows, job.Summary.FileDuplicates, job.Summary.StoreDuplicates,
		job.Summary.ConcurrentConflicts, job.Summary.AuditTruncated, job.Error, updatedAt, job.FinishedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("update import job: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update import job %s: %w", job.ID, ports.ErrJobFinalized)
	}
	return nil
}

func (s *importStore) GetJob(ctx context.Context, id string) (domain.ImportJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, getImportJob, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ImportJob{}, ports.ErrJobNotFound
	}
	if err != nil {
		return domain.ImportJob{}, classify(fmt.Errorf("get import job: %w", err))
	}
	return job, nil
}

func (s *importStore) AppendAudit(ctx context.Context, jobID string, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"import_audit_logs"},
		[]string{"job_id", "row_number", "plate_number", "mv_file", "conflict_type"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			entry := entries[i]
			return []any{jobID, entry.SourceLine, entry.PrimaryKey, entry.SecondaryKey, string(entry.Reason)}, nil
		}),
	)
	if err != nil {
		return classify(fmt.Errorf("append audit: %w", err))
	}
	return nil
}

func (s *importStore) ListAudit(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, listImportAuditLogs, jobID)
	if err != nil {
		return nil, classify(fmt.Errorf("list audit: %w", err))
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			entry  domain.AuditEntry
			reason string
		)
		err := row.Scan(&entry.SourceLine, &entry.PrimaryKey, &entry.SecondaryKey, &reason)
		entry.Reason = domain.ReasonCode(reason)
		return entry, err
	})
	if err != nil {
		return nil, classify(fmt.Errorf("list audit: %w", err))
	}
	return entries, nil
}

func (s *importStore) CountRecords(ctx context.Context, filter domain.RecordFilter) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, countPlates, filter.Partition, filter.Status).Scan(&count)
	if err != nil {
		return 0, classify(fmt.Errorf("count plates: %w", err))
	}
	return count, nil
}

func (s *importStore) FailInterruptedJobs(ctx context.Context, reason string, staleBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, failInterruptedImportJobs, reason, staleBefore.UTC())
	if err != nil {
		return 0, classify(fmt.Errorf("fail interrupted jobs: %w", err))
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to the factory owner.
func (s *importStore) Close() error {
	return nil
}

func scanJob(row pgx.Row) (domain.ImportJob, error) {
	var (
		job    domain.ImportJob
		mode   string
		status string
	)
	err := row.Scan(
		&job.ID,
		&job.Partition,
		&job.CreatedBy,
		&job.FileName,
		&mode,
		&status,
		&job.TotalRows,
		&job.ProcessedRows,
		&job.InsertedRows,
		&job.RejectedRows,
		&job.Summary.RawRows,
		&job.Summary.SkippedRows,
		&job.Summary.FileDuplicates,
		&job.Summary.StoreDuplicates,
		&job.Summary.ConcurrentConflicts,
		&job.Summary.AuditTruncated,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.FinishedAt,
	)
	job.Mode = domain.ImportMode(mode)
	job.Status = domain.JobStatus(status)
	return job, err
}

// retryableCodes are SQLSTATEs worth another attempt: serialization
// failure, deadlock, lock timeout and server start-up.
var retryableCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"55P03": {},
	"57P03": {},
}

// classify marks serialization, deadlock, connection and timeout failures as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryableCodes[pgErr.Code]; ok || strings.HasPrefix(pgErr.Code, "08") {
			return fmt.Errorf("%w: %w", ports.ErrTransient, err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", ports.ErrTransient, err)
	}
	return err
}

var (
	_ ports.ImportStore        = (*importStore)(nil)
	_ ports.ImportStoreFactory = (*ImportStoreFactory)(nil)
)
