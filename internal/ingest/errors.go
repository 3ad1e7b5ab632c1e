package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/fr0stylo/platesync/internal/app/ports"
)

var (
	// ErrMissingKey indicates a row without one of its key fields.
	ErrMissingKey = errors.New("missing key field")
	// ErrMalformedRow indicates a line that could not be parsed as delimited text.
	ErrMalformedRow = errors.New("malformed row")
	// ErrEmptyInput indicates input without a header line.
	ErrEmptyInput = errors.New("input has no header")
	// ErrInputTooLarge indicates bounded input above the configured limit.
	ErrInputTooLarge = errors.New("input exceeds bounded mode limit")
	// ErrReadInput indicates the input stream failed mid-read.
	ErrReadInput = errors.New("read input")
	// ErrMalformedBatch indicates a batch carrying rows without keys.
	ErrMalformedBatch = errors.New("malformed batch payload")
	// ErrRetriesExhausted indicates a transient failure that outlived its retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrCancelled indicates the run was cancelled between batches.
	ErrCancelled = errors.New("import cancelled")
	// ErrInvalidTransition indicates an illegal job status change.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// RunError is the single fatal error returned by a failed run.
type RunError struct {
	JobID string
	// Batch is the 1-based batch that failed; zero when no batch was in flight.
	Batch     int
	Committed int
	Err       error
}

func (e *RunError) Error() string {
	switch {
	case errors.Is(e.Err, ErrCancelled):
		return fmt.Sprintf("import %s cancelled after %d committed rows", e.JobID, e.Committed)
	case e.Batch > 0:
		return fmt.Sprintf("import %s failed at batch %d after %d committed rows: %v", e.JobID, e.Batch, e.Committed, e.Err)
	default:
		return fmt.Sprintf("import %s failed after %d committed rows: %v", e.JobID, e.Committed, e.Err)
	}
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies run failures for transport-specific mapping.
type ErrorKind string

const (
	ErrorUnknown    ErrorKind = "unknown"
	ErrorCancelled  ErrorKind = "cancelled"
	ErrorBadInput   ErrorKind = "bad_input"
	ErrorStore      ErrorKind = "store_unavailable"
	ErrorNotFound   ErrorKind = "not_found"
	ErrorTransition ErrorKind = "invalid_transition"
)

// ClassifyError classifies a returned run error.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorUnknown
	case errors.Is(err, ErrCancelled):
		return ErrorCancelled
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrInputTooLarge), errors.Is(err, ErrReadInput), errors.Is(err, ErrMalformedBatch):
		return ErrorBadInput
	case errors.Is(err, ErrRetriesExhausted), errors.Is(err, ports.ErrTransient):
		return ErrorStore
	case errors.Is(err, ports.ErrJobNotFound):
		return ErrorNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ports.ErrJobFinalized):
		return ErrorTransition
	default:
		return ErrorUnknown
	}
}

// IsTransient reports whether err may succeed on another attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ports.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
