package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fr0stylo/platesync/internal/adapters/sqlite"
	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
	"github.com/fr0stylo/platesync/internal/db"
	"github.com/fr0stylo/platesync/internal/ingest"
)

const sampleCSV = "plate_number,mv_file,dealer\n" +
	"ABC1234,111,TOYOTA\n" +
	"XYZ9999,222,HONDA\n" +
	"abc1234,333,TOYOTA\n" +
	"NEW0001,222,FORD\n" +
	"NEW0002,444,\n"

type recordingObserver struct {
	mu       sync.Mutex
	statuses []domain.JobStatus
}

func (o *recordingObserver) JobChanged(_ context.Context, job domain.ImportJob) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, job.Status)
}

func (o *recordingObserver) last() domain.JobStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.statuses) == 0 {
		return ""
	}
	return o.statuses[len(o.statuses)-1]
}

func newTestService(t *testing.T, observers ...ports.JobObserver) (*ImportService, *db.Database) {
	t.Helper()
	database := openTestDatabase(t, filepath.Join(t.TempDir(), "service-test"))
	return newServiceOn(database, observers...), database
}

func openTestDatabase(t *testing.T, path string) *db.Database {
	t.Helper()
	database, err := db.New(path)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func newServiceOn(database *db.Database, observers ...ports.JobObserver) *ImportService {
	opts := ingest.DefaultOptions()
	opts.BatchSize = 2
	opts.Retry.Base = time.Millisecond
	opts.Retry.Cap = 2 * time.Millisecond
	return NewImportService(sqlite.NewSharedImportStoreFactory(database), opts, "", observers...)
}

// uniqueCSV renders a header and n rows without duplicates.
func uniqueCSV(n int) string {
	var b strings.Builder
	b.WriteString("plate_number,mv_file,dealer\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "LIVE%03d,%09d,FORD\n", i, i)
	}
	return b.String()
}

// recoverOnFirstBatch runs recovery from a second service the first time the
// observed run reports progress.
type recoverOnFirstBatch struct {
	other      *ImportService
	staleAfter time.Duration

	once      sync.Once
	recovered int64
	err       error
	mu        sync.Mutex
	seen      []domain.ImportJob
}

func (o *recoverOnFirstBatch) JobChanged(ctx context.Context, job domain.ImportJob) {
	o.mu.Lock()
	o.seen = append(o.seen, job)
	o.mu.Unlock()
	if job.Status != domain.JobProcessing || job.ProcessedRows == 0 {
		return
	}
	o.once.Do(func() {
		o.recovered, o.err = o.other.RecoverInterrupted(ctx, o.staleAfter)
	})
}

func TestImportRunsToCompletion(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	svc, _ := newTestService(t, observer)
	ctx := context.Background()

	result, err := svc.Import(ctx, strings.NewReader(sampleCSV), ImportCommand{OfficeID: 7, UserID: "u-1", FileName: "plates.csv", Mode: domain.ModeBounded})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	job := result.Job
	if job.Status != domain.JobCompleted {
		t.Fatalf("unexpected status: %s", job.Status)
	}
	if job.InsertedRows != 3 || job.RejectedRows != 2 || job.ProcessedRows != 5 || job.TotalRows != 5 {
		t.Fatalf("unexpected counters: %+v", job)
	}
	if job.FileName != "plates.csv" || job.CreatedBy != "u-1" || job.Partition != 7 {
		t.Fatalf("unexpected job metadata: %+v", job)
	}
	if observer.last() != domain.JobCompleted {
		t.Fatalf("observer did not see completion: %v", observer.statuses)
	}
	if len(svc.Running()) != 0 {
		t.Fatalf("finished run still registered: %v", svc.Running())
	}

	count, err := svc.CountRecords(ctx, domain.RecordFilter{Partition: 7, Status: "available"})
	if err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 3 {
		t.Fatalf("unexpected record count: got=%d want=3", count)
	}

	var report bytes.Buffer
	if err := svc.WriteReport(ctx, job.ID, &report); err != nil {
		t.Fatalf("write report: %v", err)
	}
	text := report.String()
	for _, want := range []string{
		"JOB: " + job.ID,
		"STATUS: COMPLETED",
		"[FILE_DUPLICATE_PRIMARY] Row 4: plate_number=ABC1234 | mv_file=333",
		"[FILE_DUPLICATE_SECONDARY] Row 5: plate_number=NEW0001 | mv_file=222",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q:\n%s", want, text)
		}
	}
}

func TestStartImportRunsInBackground(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.StartImport(ctx, io.NopCloser(strings.NewReader(sampleCSV)), ImportCommand{OfficeID: 1})
	if err != nil {
		t.Fatalf("start import: %v", err)
	}
	if job.Status != domain.JobPending || job.Mode != domain.ModeStreaming {
		t.Fatalf("unexpected prepared job: %+v", job)
	}
	svc.Wait()

	loaded, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if loaded.Status != domain.JobCompleted || loaded.InsertedRows != 3 {
		t.Fatalf("unexpected final job: %+v", loaded)
	}
}

func TestCancelStopsBackgroundImport(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	src, feed := io.Pipe()

	job, err := svc.StartImport(ctx, src, ImportCommand{OfficeID: 1})
	if err != nil {
		t.Fatalf("start import: %v", err)
	}
	if err := svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_ = feed.Close()
	svc.Wait()

	loaded, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if loaded.Status != domain.JobFailed || !strings.Contains(loaded.Error, "cancelled") {
		t.Fatalf("unexpected cancelled job: %+v", loaded)
	}
	if err := svc.Cancel(ctx, job.ID); !errors.Is(err, ErrJobNotRunning) {
		t.Fatalf("expected ErrJobNotRunning, got %v", err)
	}
	if err := svc.Cancel(ctx, "missing"); !errors.Is(err, ports.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestShutdownCancelsRunsAndRefusesNewOnes(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	src, feed := io.Pipe()

	job, err := svc.StartImport(ctx, src, ImportCommand{})
	if err != nil {
		t.Fatalf("start import: %v", err)
	}

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- svc.Shutdown(ctx)
	}()
	// The blocked read only ends when the uploader stops sending.
	_ = feed.Close()
	if err := <-shutdownErr; err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	loaded, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if loaded.Status != domain.JobFailed {
		t.Fatalf("unexpected status after shutdown: %s", loaded.Status)
	}

	refused, err := svc.StartImport(ctx, io.NopCloser(strings.NewReader(sampleCSV)), ImportCommand{})
	if !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
	if refused.Status != domain.JobFailed || refused.InsertedRows != 0 {
		t.Fatalf("refused run should fail without inserting: %+v", refused)
	}
}

func TestRecoverInterruptedFailsUnfinishedJobs(t *testing.T) {
	t.Parallel()

	svc, database := newTestService(t)
	ctx := context.Background()

	store, err := sqlite.NewSharedImportStoreFactory(database).Open()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	pending, err := store.CreateJob(ctx, domain.NewImportJob{ID: "stale-1", Mode: domain.ModeBounded})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	processing, err := store.CreateJob(ctx, domain.NewImportJob{ID: "stale-2", Mode: domain.ModeStreaming})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	longAgo := time.Now().Add(-2 * time.Hour)
	pending.UpdatedAt = longAgo
	if err := store.UpdateJob(ctx, pending); err != nil {
		t.Fatalf("update job: %v", err)
	}
	processing.Status = domain.JobProcessing
	processing.UpdatedAt = longAgo
	if err := store.UpdateJob(ctx, processing); err != nil {
		t.Fatalf("update job: %v", err)
	}

	n, err := svc.RecoverInterrupted(ctx, time.Hour)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 2 {
		t.Fatalf("unexpected recovered count: got=%d want=2", n)
	}
	for _, id := range []string{pending.ID, processing.ID} {
		job, err := svc.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("get job %s: %v", id, err)
		}
		if job.Status != domain.JobFailed || job.Error != InterruptedReason {
			t.Fatalf("unexpected recovered job: %+v", job)
		}
	}
}

func TestImportStampsDefaultStatus(t *testing.T) {
	t.Parallel()

	svc := NewImportService(nil, ingest.DefaultOptions(), " reserved ")
	run := svc.runConfig(ImportCommand{UserID: " ops ", FileName: " f.csv "})
	if run.InitialStatus != "RESERVED" || run.CreatedBy != "ops" || run.FileName != "f.csv" {
		t.Fatalf("unexpected run config: %+v", run)
	}
	run = svc.runConfig(ImportCommand{Status: "sold"})
	if run.InitialStatus != "SOLD" {
		t.Fatalf("unexpected explicit status: %q", run.InitialStatus)
	}
}

func TestRecoverDuringLiveRunLeavesRunAlone(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "live-test")
	starting := newServiceOn(openTestDatabase(t, path))
	hook := &recoverOnFirstBatch{other: starting, staleAfter: time.Hour}
	running := newServiceOn(openTestDatabase(t, path), hook)

	result, err := running.Import(context.Background(), strings.NewReader(uniqueCSV(10)), ImportCommand{Mode: domain.ModeStreaming})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if hook.err != nil {
		t.Fatalf("recover: %v", hook.err)
	}
	if hook.recovered != 0 {
		t.Fatalf("live run was recovered: got=%d want=0", hook.recovered)
	}
	if result.Job.Status != domain.JobCompleted || result.Job.InsertedRows != 10 {
		t.Fatalf("unexpected job: %+v", result.Job)
	}
}

func TestRecoveredJobStaysFailed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "recovered-test")
	starting := newServiceOn(openTestDatabase(t, path))
	// A negative window treats every unfinished job as dead.
	hook := &recoverOnFirstBatch{other: starting, staleAfter: -time.Second}
	running := newServiceOn(openTestDatabase(t, path), hook)

	result, err := running.Import(context.Background(), strings.NewReader(uniqueCSV(10)), ImportCommand{Mode: domain.ModeStreaming})
	if !errors.Is(err, ports.ErrJobFinalized) {
		t.Fatalf("expected ErrJobFinalized, got %v", err)
	}
	if hook.err != nil || hook.recovered != 1 {
		t.Fatalf("unexpected recovery: n=%d err=%v", hook.recovered, hook.err)
	}
	if result.Job.Status != domain.JobFailed || result.Job.Error != InterruptedReason {
		t.Fatalf("unexpected result job: %+v", result.Job)
	}

	persisted, err := starting.GetJob(context.Background(), result.Job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if persisted.Status != domain.JobFailed || persisted.Error != InterruptedReason {
		t.Fatalf("recovered job was overwritten: %+v", persisted)
	}
	if persisted.InsertedRows >= 10 {
		t.Fatalf("run kept going after recovery: %+v", persisted)
	}

	hook.mu.Lock()
	defer hook.mu.Unlock()
	last := hook.seen[len(hook.seen)-1]
	if last.Status != domain.JobFailed || last.Error != InterruptedReason {
		t.Fatalf("observers should end on the recovered job: %+v", last)
	}
	for _, job := range hook.seen {
		if job.Status == domain.JobCompleted {
			t.Fatalf("observers saw completion of a recovered job: %+v", hook.seen)
		}
	}
}
