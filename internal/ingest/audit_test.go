package ingest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fr0stylo/platesync/internal/app/domain"
)

func TestAuditReportCapsRetainedEntries(t *testing.T) {
	t.Parallel()

	report := NewAuditReport(2)
	retained := report.Add(
		domain.AuditEntry{SourceLine: 9, Reason: domain.ReasonStoreDuplicate},
		domain.AuditEntry{SourceLine: 3, Reason: domain.ReasonFileDuplicatePrimary},
		domain.AuditEntry{SourceLine: 5, Reason: domain.ReasonStoreDuplicate},
	)
	if len(retained) != 2 {
		t.Fatalf("unexpected retained count: got=%d want=2", len(retained))
	}
	if !report.Truncated() {
		t.Fatalf("expected truncated report")
	}
	if report.Total(domain.ReasonStoreDuplicate) != 2 {
		t.Fatalf("unexpected store duplicate total: got=%d want=2", report.Total(domain.ReasonStoreDuplicate))
	}
	entries := report.Entries()
	if entries[0].SourceLine != 3 || entries[1].SourceLine != 9 {
		t.Fatalf("entries not ordered by line: %+v", entries)
	}
}

func TestWriteReportRendersSummaryAndRows(t *testing.T) {
	t.Parallel()

	job := domain.ImportJob{
		ID:           "job-42",
		Status:       domain.JobCompleted,
		InsertedRows: 3,
		RejectedRows: 2,
		Summary: domain.JobSummary{
			RawRows:         5,
			FileDuplicates:  1,
			StoreDuplicates: 1,
		},
	}
	entries := []domain.AuditEntry{
		{SourceLine: 6, PrimaryKey: "XYZ999", SecondaryKey: "MV-005", Reason: domain.ReasonStoreDuplicate},
		{SourceLine: 4, PrimaryKey: "ABC123", SecondaryKey: "MV-003", Reason: domain.ReasonFileDuplicatePrimary},
	}

	var buf bytes.Buffer
	if err := WriteReport(&buf, job, entries); err != nil {
		t.Fatalf("write report: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"JOB: job-42",
		"STATUS: COMPLETED",
		"inserted: 3",
		"duplicate in file: 1",
		"rejected: 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	first := strings.Index(out, "[FILE_DUPLICATE_PRIMARY] Row 4: plate_number=ABC123 | mv_file=MV-003")
	second := strings.Index(out, "[STORE_DUPLICATE] Row 6: plate_number=XYZ999 | mv_file=MV-005")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("unexpected row lines:\n%s", out)
	}
	if strings.Contains(out, "NOTE:") {
		t.Fatalf("unexpected truncation note:\n%s", out)
	}
}

func TestWriteReportFlagsTruncationInHeader(t *testing.T) {
	t.Parallel()

	job := domain.ImportJob{
		ID:           "job-7",
		Status:       domain.JobCompleted,
		RejectedRows: 3,
		Summary:      domain.JobSummary{FileDuplicates: 3, AuditTruncated: true},
	}
	entries := []domain.AuditEntry{
		{SourceLine: 2, PrimaryKey: "ABC123", SecondaryKey: "MV-1", Reason: domain.ReasonFileDuplicatePrimary},
	}

	var buf bytes.Buffer
	if err := WriteReport(&buf, job, entries); err != nil {
		t.Fatalf("write report: %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	want := []string{"AUDIT REPORT", "JOB: job-7", "STATUS: COMPLETED", "NOTE: report truncated, showing 1 of 3 rejected rows"}
	if len(lines) < len(want) {
		t.Fatalf("short report:\n%s", buf.String())
	}
	for i, line := range want {
		if lines[i] != line {
			t.Fatalf("header line %d: got=%q want=%q", i, lines[i], line)
		}
	}
}
