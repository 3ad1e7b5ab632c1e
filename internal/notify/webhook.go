package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
)

const (
	// EventSource is the CloudEvents source of every job notification.
	EventSource = "/platesync/imports"
	// EventTypePrefix is followed by the lower-cased job status.
	EventTypePrefix = "dev.platesync.import.job."
	// SignatureHeader carries the hex HMAC-SHA256 of the body.
	SignatureHeader = "X-Webhook-Signature"
)

// JobPayload is the wire form of a job snapshot, shared by notifications
// and the HTTP API.
type JobPayload struct {
	ID            string         `json:"id"`
	OfficeID      int64          `json:"office_id"`
	CreatedBy     string         `json:"created_by,omitempty"`
	FileName      string         `json:"file_name,omitempty"`
	Mode          string         `json:"mode"`
	Status        string         `json:"status"`
	TotalRows     int            `json:"total_rows"`
	ProcessedRows int            `json:"processed_rows"`
	InsertedRows  int            `json:"inserted_rows"`
	RejectedRows  int            `json:"rejected_rows"`
	Summary       SummaryPayload `json:"summary"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

type SummaryPayload struct {
	RawRows             int  `json:"raw_rows"`
	SkippedRows         int  `json:"skipped_rows"`
	FileDuplicates      int  `json:"file_duplicates"`
	StoreDuplicates     int  `json:"store_duplicates"`
	ConcurrentConflicts int  `json:"concurrent_conflicts"`
	AuditTruncated      bool `json:"audit_truncated"`
}

// NewJobPayload flattens a job snapshot.
func NewJobPayload(job domain.ImportJob) JobPayload {
	return JobPayload{
		ID:            job.ID,
		OfficeID:      job.Partition,
		CreatedBy:     job.CreatedBy,
		FileName:      job.FileName,
		Mode:          string(job.Mode),
		Status:        string(job.Status),
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		InsertedRows:  job.InsertedRows,
		RejectedRows:  job.RejectedRows,
		Summary: SummaryPayload{
			RawRows:             job.Summary.RawRows,
			SkippedRows:         job.Summary.SkippedRows,
			FileDuplicates:      job.Summary.FileDuplicates,
			StoreDuplicates:     job.Summary.StoreDuplicates,
			ConcurrentConflicts: job.Summary.ConcurrentConflicts,
			AuditTruncated:      job.Summary.AuditTruncated,
		},
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		FinishedAt: job.FinishedAt,
	}
}

// Webhook posts a structured CloudEvent whenever a job changes status.
// Progress-only snapshots are not sent.
type Webhook struct {
	Endpoint   string
	Token      string
	Secret     string
	Timeout    time.Duration
	HTTPClient *http.Client

	mu   sync.Mutex
	last map[string]domain.JobStatus
}

// JobChanged implements ports.JobObserver. Delivery failures are logged.
func (w *Webhook) JobChanged(ctx context.Context, job domain.ImportJob) {
	if !w.statusChanged(job) {
		return
	}
	if err := w.Publish(context.WithoutCancel(ctx), job); err != nil {
		slog.WarnContext(ctx, "import_notify_failed", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

// Publish sends one notification for job.
func (w *Webhook) Publish(ctx context.Context, job domain.ImportJob) error {
	endpoint := strings.TrimSpace(w.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("notify endpoint is required")
	}

	event, err := NewJobEvent(job)
	if err != nil {
		return err
	}
	body, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", cloudevents.ApplicationCloudEventsJSON)
	if token := strings.TrimSpace(w.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if secret := strings.TrimSpace(w.Secret); secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, secret))
	}

	client := w.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("notification rejected: status=%s body=%s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return nil
}

func (w *Webhook) statusChanged(job domain.ImportJob) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		w.last = make(map[string]domain.JobStatus)
	}
	if w.last[job.ID] == job.Status {
		return false
	}
	if job.Status.Terminal() {
		delete(w.last, job.ID)
	} else {
		w.last[job.ID] = job.Status
	}
	return true
}

// NewJobEvent builds the CloudEvent describing job.
func NewJobEvent(job domain.ImportJob) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(EventSource)
	event.SetType(EventTypePrefix + strings.ToLower(string(job.Status)))
	event.SetSubject(job.ID)
	event.SetTime(time.Now().UTC())
	if err := event.SetData(cloudevents.ApplicationJSON, NewJobPayload(job)); err != nil {
		return cloudevents.Event{}, fmt.Errorf("encode event data: %w", err)
	}
	if err := event.Validate(); err != nil {
		return cloudevents.Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return event, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ ports.JobObserver = (*Webhook)(nil)
