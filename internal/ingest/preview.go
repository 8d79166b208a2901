package ingest

import "github.com/kalambet/insurepredict/internal/schema"

// DefaultMaxPreviewRows caps the preview buffer when no limit is configured.
const DefaultMaxPreviewRows = 10000

// Preview is the bounded, ordered buffer of ingested rows. Rows offered
// after the cap are counted but not stored.
type Preview struct {
	limit int
	rows  []schema.Row
	seen  int
}

// NewPreview returns a buffer holding at most limit rows. A non-positive
// limit falls back to DefaultMaxPreviewRows.
func NewPreview(limit int) *Preview {
	if limit <= 0 {
		limit = DefaultMaxPreviewRows
	}
	return &Preview{limit: limit}
}

// Add offers a row and reports whether it was stored.
func (p *Preview) Add(r schema.Row) bool {
	p.seen++
	if len(p.rows) >= p.limit {
		return false
	}
	p.rows = append(p.rows, r)
	return true
}

// Rows returns the buffered rows. The slice is owned by the caller.
func (p *Preview) Rows() []schema.Row {
	out := make([]schema.Row, len(p.rows))
	copy(out, p.rows)
	return out
}

func (p *Preview) Len() int  { return len(p.rows) }
func (p *Preview) Seen() int { return p.seen }

// Full reports whether the cap has been reached.
func (p *Preview) Full() bool {
	return len(p.rows) >= p.limit
}
