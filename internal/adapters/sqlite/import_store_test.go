package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
	"github.com/fr0stylo/platesync/internal/db"
)

func openTestStore(t *testing.T) ports.ImportStore {
	t.Helper()
	factory := NewImportStoreFactory(filepath.Join(t.TempDir(), "import-test"))
	store, err := factory.Open()
	if err != nil {
		t.Fatalf("open import store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func row(line int, plate, mv string) domain.ImportRow {
	return domain.ImportRow{
		PrimaryKey:   plate,
		SecondaryKey: mv,
		Attributes:   map[string]string{"dealer": "TOYOTA"},
		SourceLine:   line,
	}
}

func TestInsertBatchIfAbsentReportsConflictKinds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)
	meta := domain.RecordMeta{JobID: "job-a", Partition: 4, Status: "AVAILABLE", CreatedBy: "ops"}

	outcome, err := store.InsertBatchIfAbsent(ctx, []domain.ImportRow{row(2, "AAA111", "MV-1"), row(3, "BBB222", "MV-2")}, meta)
	if err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	if outcome.Inserted != 2 || len(outcome.Conflicts) != 0 {
		t.Fatalf("unexpected seed outcome: %+v", outcome)
	}

	outcome, err = store.InsertBatchIfAbsent(ctx, []domain.ImportRow{
		row(2, "AAA111", "MV-9"),
		row(3, "CCC333", "MV-2"),
		row(4, "DDD444", "MV-4"),
	}, meta)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if outcome.Inserted != 1 {
		t.Fatalf("unexpected inserted count: got=%d want=1", outcome.Inserted)
	}
	if len(outcome.Conflicts) != 2 {
		t.Fatalf("unexpected conflicts: %+v", outcome.Conflicts)
	}
	if outcome.Conflicts[0].Kind != domain.KeyPrimary || outcome.Conflicts[0].Row.SourceLine != 2 {
		t.Fatalf("unexpected first conflict: %+v", outcome.Conflicts[0])
	}
	if outcome.Conflicts[1].Kind != domain.KeySecondary || outcome.Conflicts[1].Reason != domain.ConflictAlreadyInStore {
		t.Fatalf("unexpected second conflict: %+v", outcome.Conflicts[1])
	}

	count, err := store.CountRecords(ctx, domain.RecordFilter{Partition: 4, Status: "AVAILABLE"})
	if err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 3 {
		t.Fatalf("unexpected record count: got=%d want=3", count)
	}
}

func TestInsertBatchIfAbsentPrefersPrimaryWhenBothKeysTaken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)
	meta := domain.RecordMeta{JobID: "job-b", Partition: 1, Status: "AVAILABLE", CreatedBy: "ops"}

	if _, err := store.InsertBatchIfAbsent(ctx, []domain.ImportRow{row(2, "AAA111", "MV-1"), row(3, "BBB222", "MV-2")}, meta); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	// The secondary key belongs to the earlier stored row.
	outcome, err := store.InsertBatchIfAbsent(ctx, []domain.ImportRow{row(2, "BBB222", "MV-1")}, meta)
	if err != nil {
		t.Fatalf("conflicting batch: %v", err)
	}
	if outcome.Inserted != 0 || len(outcome.Conflicts) != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Conflicts[0].Kind != domain.KeyPrimary {
		t.Fatalf("unexpected conflict kind: got=%s want=%s", outcome.Conflicts[0].Kind, domain.KeyPrimary)
	}
}

func TestExistsAnyReturnsStoredSubset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.InsertBatchIfAbsent(ctx, []domain.ImportRow{row(2, "AAA111", "MV-1")}, domain.RecordMeta{Partition: 1, Status: "AVAILABLE"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	primary, err := store.ExistsAny(ctx, domain.KeyPrimary, []string{"AAA111", "ZZZ000"})
	if err != nil {
		t.Fatalf("exists primary: %v", err)
	}
	if _, ok := primary["AAA111"]; !ok || len(primary) != 1 {
		t.Fatalf("unexpected primary matches: %v", primary)
	}

	secondary, err := store.ExistsAny(ctx, domain.KeySecondary, []string{"MV-1"})
	if err != nil {
		t.Fatalf("exists secondary: %v", err)
	}
	if len(secondary) != 1 {
		t.Fatalf("unexpected secondary matches: %v", secondary)
	}

	empty, err := store.ExistsAny(ctx, domain.KeySecondary, nil)
	if err != nil {
		t.Fatalf("exists empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("unexpected empty matches: %v", empty)
	}
}

func TestImportJobRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "jobs-test")
	store, err := NewImportStoreFactory(dbPath).Open()
	if err != nil {
		t.Fatalf("open import store: %v", err)
	}

	job, err := store.CreateJob(ctx, domain.NewImportJob{
		ID:        "job-1",
		Partition: 2,
		CreatedBy: "alice",
		FileName:  "plates.csv",
		Mode:      domain.ModeStreaming,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != domain.JobPending || job.TotalRows != -1 {
		t.Fatalf("unexpected created job: %+v", job)
	}

	job.Status = domain.JobCompleted
	job.TotalRows = 5
	job.ProcessedRows = 5
	job.InsertedRows = 3
	job.RejectedRows = 2
	job.Summary = domain.JobSummary{RawRows: 6, SkippedRows: 1, FileDuplicates: 1, StoreDuplicates: 1, AuditTruncated: true}
	finished := job.CreatedAt
	job.FinishedAt = &finished
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("update job: %v", err)
	}
	if err := store.AppendAudit(ctx, job.ID, []domain.AuditEntry{
		{SourceLine: 4, PrimaryKey: "A", SecondaryKey: "B", Reason: domain.ReasonFileDuplicatePrimary},
		{SourceLine: 6, PrimaryKey: "C", SecondaryKey: "D", Reason: domain.ReasonStoreDuplicate},
	}); err != nil {
		t.Fatalf("append audit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reloaded, err := db.New(dbPath)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })

	shared, err := NewSharedImportStoreFactory(reloaded).Open()
	if err != nil {
		t.Fatalf("open shared store: %v", err)
	}
	loaded, err := shared.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if loaded.Status != domain.JobCompleted || loaded.InsertedRows != 3 || loaded.Summary != job.Summary {
		t.Fatalf("unexpected loaded job: %+v", loaded)
	}
	if loaded.FinishedAt == nil {
		t.Fatalf("expected finished timestamp")
	}

	entries, err := shared.ListAudit(ctx, "job-1")
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 2 || entries[1].Reason != domain.ReasonStoreDuplicate {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}

	if err := shared.Close(); err != nil {
		t.Fatalf("shared close should be a no-op: %v", err)
	}
	if _, err := reloaded.GetImportJob(ctx, "job-1"); err != nil {
		t.Fatalf("shared handle closed unexpectedly: %v", err)
	}
}

func TestGetJobUnknownID(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	_, err := store.GetJob(context.Background(), "missing")
	if !errors.Is(err, ports.ErrJobNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFailInterruptedJobsSkipsTerminalAndFresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now().UTC()

	stale, err := store.CreateJob(ctx, domain.NewImportJob{ID: "stale", Mode: domain.ModeBounded})
	if err != nil {
		t.Fatalf("create stale job: %v", err)
	}
	stale.Status = domain.JobProcessing
	stale.UpdatedAt = now.Add(-2 * time.Hour)
	if err := store.UpdateJob(ctx, stale); err != nil {
		t.Fatalf("update stale job: %v", err)
	}
	fresh, err := store.CreateJob(ctx, domain.NewImportJob{ID: "fresh", Mode: domain.ModeStreaming})
	if err != nil {
		t.Fatalf("create fresh job: %v", err)
	}
	fresh.Status = domain.JobProcessing
	fresh.UpdatedAt = now
	if err := store.UpdateJob(ctx, fresh); err != nil {
		t.Fatalf("update fresh job: %v", err)
	}
	done, err := store.CreateJob(ctx, domain.NewImportJob{ID: "done", Mode: domain.ModeBounded})
	if err != nil {
		t.Fatalf("create done job: %v", err)
	}
	done.Status = domain.JobCompleted
	done.UpdatedAt = now.Add(-3 * time.Hour)
	if err := store.UpdateJob(ctx, done); err != nil {
		t.Fatalf("update done job: %v", err)
	}

	affected, err := store.FailInterruptedJobs(ctx, "interrupted by restart", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("fail interrupted: %v", err)
	}
	if affected != 1 {
		t.Fatalf("unexpected affected: got=%d want=1", affected)
	}

	want := map[string]domain.JobStatus{"stale": domain.JobFailed, "fresh": domain.JobProcessing, "done": domain.JobCompleted}
	for id, status := range want {
		loaded, err := store.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("get job %s: %v", id, err)
		}
		if loaded.Status != status {
			t.Fatalf("unexpected status for %s: got=%s want=%s", id, loaded.Status, status)
		}
	}
	loaded, err := store.GetJob(ctx, "stale")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if loaded.Error != "interrupted by restart" {
		t.Fatalf("unexpected interrupted job: %+v", loaded)
	}
}

func TestUpdateJobRefusesTerminalJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)

	job, err := store.CreateJob(ctx, domain.NewImportJob{ID: "live", Mode: domain.ModeStreaming})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	job.Status = domain.JobProcessing
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("begin job: %v", err)
	}
	if _, err := store.FailInterruptedJobs(ctx, "interrupted by restart", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("fail interrupted: %v", err)
	}

	job.ProcessedRows = 10
	if err := store.UpdateJob(ctx, job); !errors.Is(err, ports.ErrJobFinalized) {
		t.Fatalf("expected ErrJobFinalized for progress on failed job, got %v", err)
	}
	job.Status = domain.JobCompleted
	if err := store.UpdateJob(ctx, job); !errors.Is(err, ports.ErrJobFinalized) {
		t.Fatalf("expected ErrJobFinalized for completing failed job, got %v", err)
	}
	if err := store.UpdateJob(ctx, domain.ImportJob{ID: "missing", Status: domain.JobProcessing}); !errors.Is(err, ports.ErrJobFinalized) {
		t.Fatalf("expected ErrJobFinalized for unknown job, got %v", err)
	}

	loaded, err := store.GetJob(ctx, "live")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if loaded.Status != domain.JobFailed || loaded.ProcessedRows != 0 {
		t.Fatalf("failed job was overwritten: %+v", loaded)
	}
}
