package ingest

import "github.com/fr0stylo/platesync/internal/app/domain"

// Deduplicator tracks keys admitted earlier in the same input. The first
// occurrence of a key wins; rejected rows never contribute keys.
type Deduplicator struct {
	primary   map[string]struct{}
	secondary map[string]struct{}
}

// NewDeduplicator returns an empty key set.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		primary:   make(map[string]struct{}),
		secondary: make(map[string]struct{}),
	}
}

// Admit records the row keys when both are new. Otherwise it returns the
// rejection reason; a repeated primary key wins over a repeated secondary key.
func (d *Deduplicator) Admit(row domain.ImportRow) (domain.ReasonCode, bool) {
	if _, ok := d.primary[row.PrimaryKey]; ok {
		return domain.ReasonFileDuplicatePrimary, false
	}
	if _, ok := d.secondary[row.SecondaryKey]; ok {
		return domain.ReasonFileDuplicateSecondary, false
	}
	d.primary[row.PrimaryKey] = struct{}{}
	d.secondary[row.SecondaryKey] = struct{}{}
	return "", true
}
