package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
)

type storedRecord struct {
	row  domain.ImportRow
	meta domain.RecordMeta
}

// memStore is an in-memory ImportStore with failure hooks.
type memStore struct {
	mu        sync.Mutex
	records   map[string]storedRecord
	secondary map[string]string
	jobs      map[string]domain.ImportJob
	audit     map[string][]domain.AuditEntry

	insertCalls int
	existsCalls int
	updateCalls int

	onInsert func(call int) error
	onExists func(s *memStore, kind domain.KeyKind)
	onUpdate func(job domain.ImportJob) error
}

func newMemStore() *memStore {
	return &memStore{
		records:   make(map[string]storedRecord),
		secondary: make(map[string]string),
		jobs:      make(map[string]domain.ImportJob),
		audit:     make(map[string][]domain.AuditEntry),
	}
}

func (s *memStore) Open() (ports.ImportStore, error) {
	return s, nil
}

// seed stores records without going through a batch. Caller holds no lock.
func (s *memStore) seed(rows ...domain.ImportRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.put(row, domain.RecordMeta{})
	}
}

func (s *memStore) put(row domain.ImportRow, meta domain.RecordMeta) {
	s.records[row.PrimaryKey] = storedRecord{row: row, meta: meta}
	s.secondary[row.SecondaryKey] = row.PrimaryKey
}

func (s *memStore) ExistsAny(_ context.Context, kind domain.KeyKind, keys []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existsCalls++

	out := make(map[string]struct{})
	for _, key := range keys {
		var ok bool
		if kind == domain.KeyPrimary {
			_, ok = s.records[key]
		} else {
			_, ok = s.secondary[key]
		}
		if ok {
			out[key] = struct{}{}
		}
	}
	if s.onExists != nil {
		s.onExists(s, kind)
	}
	return out, nil
}

func (s *memStore) InsertBatchIfAbsent(_ context.Context, rows []domain.ImportRow, meta domain.RecordMeta) (domain.WriteOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.onInsert != nil {
		if err := s.onInsert(s.insertCalls); err != nil {
			return domain.WriteOutcome{}, err
		}
	}

	var outcome domain.WriteOutcome
	for _, row := range rows {
		if _, ok := s.records[row.PrimaryKey]; ok {
			outcome.Conflicts = append(outcome.Conflicts, domain.Conflict{Row: row, Kind: domain.KeyPrimary, Reason: domain.ConflictAlreadyInStore})
			continue
		}
		if _, ok := s.secondary[row.SecondaryKey]; ok {
			outcome.Conflicts = append(outcome.Conflicts, domain.Conflict{Row: row, Kind: domain.KeySecondary, Reason: domain.ConflictAlreadyInStore})
			continue
		}
		s.put(row, meta)
		outcome.Inserted++
	}
	return outcome, nil
}

func (s *memStore) CreateJob(_ context.Context, job domain.NewImportJob) (domain.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return domain.ImportJob{}, fmt.Errorf("job %s exists", job.ID)
	}
	now := time.Now().UTC()
	created := domain.ImportJob{
		ID:        job.ID,
		Partition: job.Partition,
		CreatedBy: job.CreatedBy,
		FileName:  job.FileName,
		Mode:      job.Mode,
		TotalRows: -1,
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = created
	return created, nil
}

func (s *memStore) UpdateJob(_ context.Context, job domain.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.onUpdate != nil {
		if err := s.onUpdate(job); err != nil {
			return err
		}
	}
	if current, ok := s.jobs[job.ID]; !ok || current.Status.Terminal() {
		return fmt.Errorf("update job %s: %w", job.ID, ports.ErrJobFinalized)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (domain.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ImportJob{}, ports.ErrJobNotFound
	}
	return job, nil
}

func (s *memStore) AppendAudit(_ context.Context, jobID string, entries []domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[jobID] = append(s.audit[jobID], entries...)
	return nil
}

func (s *memStore) ListAudit(_ context.Context, jobID string) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.audit[jobID]...), nil
}

func (s *memStore) CountRecords(_ context.Context, filter domain.RecordFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, record := range s.records {
		if record.meta.Partition == filter.Partition && record.meta.Status == filter.Status {
			n++
		}
	}
	return n, nil
}

func (s *memStore) FailInterruptedJobs(_ context.Context, reason string, staleBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, job := range s.jobs {
		if job.Status.Terminal() || !job.UpdatedAt.Before(staleBefore) {
			continue
		}
		job.Status = domain.JobFailed
		job.Error = reason
		s.jobs[id] = job
		n++
	}
	return n, nil
}

func (s *memStore) Close() error {
	return nil
}

func (s *memStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memStore) record(primary string) (domain.ImportRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[primary]
	return record.row, ok
}

func (s *memStore) inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls
}

func (s *memStore) auditFor(jobID string) []domain.AuditEntry {
	entries, _ := s.ListAudit(context.Background(), jobID)
	return entries
}

// plateCSV renders a header and n unique rows.
func plateCSV(n int) string {
	var b strings.Builder
	b.WriteString("plate_number,mv_file,dealer\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "P%05d,MV%05d,Dealer %d\n", i, i, i%7)
	}
	return b.String()
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Retry = RetryPolicy{MaxRetries: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond}
	opts.CallTimeout = time.Second
	return opts
}
