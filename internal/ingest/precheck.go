package ingest

import (
	"context"

	"github.com/samber/lo"

	"github.com/fr0stylo/platesync/internal/app/domain"
	"github.com/fr0stylo/platesync/internal/app/ports"
)

// Prechecker filters rows whose keys are already stored. The result is
// advisory; the batch write remains authoritative.
type Prechecker struct {
	store ports.ImportStore
	retry retrier
}

// Check issues at most one existence query per key kind.
func (p *Prechecker) Check(ctx context.Context, rows []domain.ImportRow) ([]domain.ImportRow, []domain.AuditEntry, error) {
	if len(rows) == 0 {
		return nil, nil, nil
	}

	primary, err := p.exists(ctx, domain.KeyPrimary, rows)
	if err != nil {
		return nil, nil, err
	}
	unresolved := lo.Reject(rows, func(row domain.ImportRow, _ int) bool {
		_, hit := primary[row.PrimaryKey]
		return hit
	})
	secondary, err := p.exists(ctx, domain.KeySecondary, unresolved)
	if err != nil {
		return nil, nil, err
	}

	kept := make([]domain.ImportRow, 0, len(rows))
	var duplicates []domain.AuditEntry
	for _, row := range rows {
		_, hitPrimary := primary[row.PrimaryKey]
		_, hitSecondary := secondary[row.SecondaryKey]
		if hitPrimary || hitSecondary {
			duplicates = append(duplicates, domain.NewAuditEntry(row, domain.ReasonStoreDuplicate))
			continue
		}
		kept = append(kept, row)
	}
	return kept, duplicates, nil
}

func (p *Prechecker) exists(ctx context.Context, kind domain.KeyKind, rows []domain.ImportRow) (map[string]struct{}, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	keys := lo.Uniq(lo.Map(rows, func(row domain.ImportRow, _ int) string { return row.Key(kind) }))

	var found map[string]struct{}
	err := p.retry.do(ctx, "precheck_"+string(kind), func(ctx context.Context) error {
		var err error
		found, err = p.store.ExistsAny(ctx, kind, keys)
		return err
	})
	return found, err
}
