package domain

import "time"

// KeyKind names one of the two independent uniqueness keys of a record.
type KeyKind string

const (
	// KeyPrimary is the plate number.
	KeyPrimary KeyKind = "primary"
	// KeySecondary is the MV file number.
	KeySecondary KeyKind = "secondary"
)

// ImportRow is one normalized candidate record.
type ImportRow struct {
	PrimaryKey   string
	SecondaryKey string
	Attributes   map[string]string
	// SourceLine is the physical 1-based line in the input; the header is line 1.
	SourceLine int
}

// Key returns the row key of the requested kind.
func (r ImportRow) Key(kind KeyKind) string {
	if kind == KeySecondary {
		return r.SecondaryKey
	}
	return r.PrimaryKey
}

// ReasonCode classifies a rejected row in the audit trail.
type ReasonCode string

const (
	ReasonFileDuplicatePrimary   ReasonCode = "FILE_DUPLICATE_PRIMARY"
	ReasonFileDuplicateSecondary ReasonCode = "FILE_DUPLICATE_SECONDARY"
	ReasonStoreDuplicate         ReasonCode = "STORE_DUPLICATE"
	ReasonConcurrentConflict     ReasonCode = "CONCURRENT_CONFLICT"
)

// ConflictReason explains why the store refused a row during a batch write.
type ConflictReason string

const (
	// ConflictAlreadyInStore means the key existed and no precheck ran for the batch.
	ConflictAlreadyInStore ConflictReason = "ALREADY_IN_STORE"
	// ConflictConcurrent means the key appeared between precheck and write.
	ConflictConcurrent ConflictReason = "CONCURRENT_CONFLICT"
)

// Conflict is one row refused by the store.
type Conflict struct {
	Row    ImportRow
	Kind   KeyKind
	Reason ConflictReason
}

// AuditReason maps a write conflict to its audit reason code.
func (c Conflict) AuditReason() ReasonCode {
	if c.Reason == ConflictConcurrent {
		return ReasonConcurrentConflict
	}
	return ReasonStoreDuplicate
}

// WriteOutcome is the result of one batch write.
type WriteOutcome struct {
	Inserted  int
	Conflicts []Conflict
}

// RecordMeta carries the run-scoped values stamped on every inserted record.
type RecordMeta struct {
	JobID     string
	Partition int64
	Status    string
	CreatedBy string
}

// RecordFilter selects stored records for counting.
type RecordFilter struct {
	Partition int64
	Status    string
}

// AuditEntry is one rejected row in the audit trail.
type AuditEntry struct {
	SourceLine   int
	PrimaryKey   string
	SecondaryKey string
	Reason       ReasonCode
}

// NewAuditEntry builds an audit entry for a row.
func NewAuditEntry(row ImportRow, reason ReasonCode) AuditEntry {
	return AuditEntry{
		SourceLine:   row.SourceLine,
		PrimaryKey:   row.PrimaryKey,
		SecondaryKey: row.SecondaryKey,
		Reason:       reason,
	}
}

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ImportMode selects how the input is consumed.
type ImportMode string

const (
	ModeBounded   ImportMode = "bounded"
	ModeStreaming ImportMode = "streaming"
)

// JobSummary holds the per-reason tallies of a run.
type JobSummary struct {
	RawRows             int
	SkippedRows         int
	FileDuplicates      int
	StoreDuplicates     int
	ConcurrentConflicts int
	AuditTruncated      bool
}

// ImportJob is the persisted progress record of one run.
type ImportJob struct {
	ID        string
	Partition int64
	CreatedBy string
	FileName  string
	Mode      ImportMode
	// TotalRows is -1 until the candidate row count is known.
	TotalRows     int
	ProcessedRows int
	InsertedRows  int
	RejectedRows  int
	Status        JobStatus
	Error         string
	Summary       JobSummary
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    *time.Time
}

// NewImportJob is the input for creating a job record.
type NewImportJob struct {
	ID        string
	Partition int64
	CreatedBy string
	FileName  string
	Mode      ImportMode
}
