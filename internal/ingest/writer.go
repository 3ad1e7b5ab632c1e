package ingest

import (
	"context"
	"fmt"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
)

// BatchWriter submits one conditional insert per batch.
type BatchWriter struct {
	store ports.ImportStore
	retry retrier
}

// Write inserts rows whose keys are free. Conflicts on prechecked batches
// are reported as concurrent; the store already refused them atomically.
func (w *BatchWriter) Write(ctx context.Context, rows []domain.ImportRow, meta domain.RecordMeta, prechecked bool) (domain.WriteOutcome, error) {
	if len(rows) == 0 {
		return domain.WriteOutcome{}, nil
	}
	for _, row := range rows {
		if row.PrimaryKey == "" || row.SecondaryKey == "" {
			return domain.WriteOutcome{}, fmt.Errorf("line %d: %w", row.SourceLine, ErrMalformedBatch)
		}
	}

	var outcome domain.WriteOutcome
	err := w.retry.do(ctx, "write_batch", func(ctx context.Context) error {
		var err error
		outcome, err = w.store.InsertBatchIfAbsent(ctx, rows, meta)
		return err
	})
	if err != nil {
		return domain.WriteOutcome{}, err
	}

	if prechecked {
		for i := range outcome.Conflicts {
			outcome.Conflicts[i].Reason = domain.ConflictConcurrent
		}
	}
	return outcome, nil
}
