package ingest

import (
	"fmt"
	"strings"

	"github.com/fr0stylo/platesync/internal/app/domain"
)

const utf8BOM = "\ufeff"

// Header maps configured column names to field positions.
type Header struct {
	primary   int
	secondary int
	auxiliary map[string]int
}

// NewHeader resolves cols against a header record. Keys fall back to
// positions 0 and 1 unless both are found by name. When none of the
// configured names are present the auxiliary columns follow in order too.
func NewHeader(record []string, cols Columns) Header {
	index := make(map[string]int, len(record))
	for i, name := range record {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, utf8BOM)))
		if _, seen := index[name]; !seen && name != "" {
			index[name] = i
		}
	}

	h := Header{primary: -1, secondary: -1, auxiliary: make(map[string]int, len(cols.Auxiliary))}
	lookup := func(name string) (int, bool) {
		i, ok := index[strings.ToLower(strings.TrimSpace(name))]
		return i, ok
	}

	matched := false
	if i, ok := lookup(cols.Primary); ok {
		h.primary, matched = i, true
	}
	if i, ok := lookup(cols.Secondary); ok {
		h.secondary, matched = i, true
	}
	for _, name := range cols.Auxiliary {
		if i, ok := lookup(name); ok {
			h.auxiliary[name], matched = i, true
		}
	}
	if h.primary < 0 || h.secondary < 0 {
		h.primary, h.secondary = 0, 1
	}
	if matched {
		return h
	}

	for i, name := range cols.Auxiliary {
		h.auxiliary[name] = 2 + i
	}
	return h
}

// Normalizer turns parsed records into ImportRows.
type Normalizer struct {
	header Header
	cols   Columns
}

// NewNormalizer builds a normalizer for one input.
func NewNormalizer(header Header, cols Columns) Normalizer {
	return Normalizer{header: header, cols: cols}
}

// Normalize trims and upper-cases both keys and fills blank auxiliary fields
// with the placeholder. Rows missing either key return ErrMissingKey.
func (n Normalizer) Normalize(record []string, line int) (domain.ImportRow, error) {
	primary := normalizeKey(field(record, n.header.primary))
	secondary := normalizeKey(field(record, n.header.secondary))
	if primary == "" || secondary == "" {
		return domain.ImportRow{}, fmt.Errorf("line %d: %w", line, ErrMissingKey)
	}

	attributes := make(map[string]string, len(n.cols.Auxiliary))
	for _, name := range n.cols.Auxiliary {
		value := strings.TrimSpace(field(record, n.header.auxiliary[name]))
		if value == "" {
			value = n.cols.Placeholder
		}
		attributes[name] = value
	}

	return domain.ImportRow{
		PrimaryKey:   primary,
		SecondaryKey: secondary,
		Attributes:   attributes,
		SourceLine:   line,
	}, nil
}

func normalizeKey(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

func field(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return record[index]
}
