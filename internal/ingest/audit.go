package ingest

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/fr0stylo/platesync/internal/app/domain"
)

// AuditReport accumulates rejected rows up to a cap.
type AuditReport struct {
	cap     int
	entries []domain.AuditEntry
	totals  map[domain.ReasonCode]int
	dropped int
}

// NewAuditReport returns an empty report retaining at most capacity entries.
func NewAuditReport(capacity int) *AuditReport {
	if capacity <= 0 {
		capacity = DefaultAuditCap
	}
	return &AuditReport{cap: capacity, totals: make(map[domain.ReasonCode]int)}
}

// Add tallies entries and returns the ones retained under the cap.
func (a *AuditReport) Add(entries ...domain.AuditEntry) []domain.AuditEntry {
	var retained []domain.AuditEntry
	for _, entry := range entries {
		a.totals[entry.Reason]++
		if len(a.entries) >= a.cap {
			a.dropped++
			continue
		}
		a.entries = append(a.entries, entry)
		retained = append(retained, entry)
	}
	return retained
}

// Total returns how many entries carried reason, retained or not.
func (a *AuditReport) Total(reason domain.ReasonCode) int {
	return a.totals[reason]
}

// Truncated reports whether entries were dropped by the cap.
func (a *AuditReport) Truncated() bool {
	return a.dropped > 0
}

// Entries returns retained entries ordered by source line.
func (a *AuditReport) Entries() []domain.AuditEntry {
	out := make([]domain.AuditEntry, len(a.entries))
	copy(out, a.entries)
	sortEntries(out)
	return out
}

// WriteReport renders the plain-text report of a job.
func WriteReport(w io.Writer, job domain.ImportJob, entries []domain.AuditEntry) error {
	entries = append([]domain.AuditEntry(nil), entries...)
	sortEntries(entries)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "AUDIT REPORT\nJOB: %s\nSTATUS: %s\n", job.ID, job.Status)
	if job.Error != "" {
		fmt.Fprintf(bw, "ERROR: %s\n", job.Error)
	}
	if job.Summary.AuditTruncated {
		fmt.Fprintf(bw, "NOTE: report truncated, showing %d of %d rejected rows\n", len(entries), job.RejectedRows)
	}

	summary := job.Summary
	fmt.Fprintf(bw, "\nSUMMARY\n")
	fmt.Fprintf(bw, "raw rows: %d\n", summary.RawRows)
	fmt.Fprintf(bw, "skipped rows: %d\n", summary.SkippedRows)
	fmt.Fprintf(bw, "inserted: %d\n", job.InsertedRows)
	fmt.Fprintf(bw, "duplicate in file: %d\n", summary.FileDuplicates)
	fmt.Fprintf(bw, "duplicate in store: %d\n", summary.StoreDuplicates)
	fmt.Fprintf(bw, "concurrent conflicts: %d\n", summary.ConcurrentConflicts)
	fmt.Fprintf(bw, "rejected: %d\n", job.RejectedRows)

	if len(entries) > 0 {
		fmt.Fprintln(bw)
	}
	for _, entry := range entries {
		fmt.Fprintf(bw, "[%s] Row %d: plate_number=%s | mv_file=%s\n", entry.Reason, entry.SourceLine, entry.PrimaryKey, entry.SecondaryKey)
	}
	return bw.Flush()
}

func sortEntries(entries []domain.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].SourceLine < entries[j].SourceLine })
}
