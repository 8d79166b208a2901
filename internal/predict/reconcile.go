package predict

import (
	"strings"

	"github.com/kalambet/insurepredict/internal/schema"
)

// Result is one prediction returned by a service. ID is the textual id
// the service echoed back, empty if it sent none.
type Result struct {
	ID       string
	Response schema.Number
}

// Reconcile applies results to a copy of rows. When every result and
// every row carry a distinct id, results are matched by id and rows
// without a result keep their Response. Otherwise results are paired by
// position; surplus results are ignored and surplus rows are unchanged.
func Reconcile(rows []schema.Row, results []Result) []schema.Row {
	out := make([]schema.Row, len(rows))
	copy(out, rows)

	if byID, ok := indexResults(results); ok && rowsHaveDistinctIDs(rows) {
		for i, row := range out {
			if r, ok := byID[normalizeID(row.Key())]; ok {
				out[i] = row.WithResponse(r.Response)
			}
		}
		return out
	}

	for i := range out {
		if i >= len(results) {
			break
		}
		out[i] = out[i].WithResponse(results[i].Response)
	}
	return out
}

func indexResults(results []Result) (map[string]Result, bool) {
	if len(results) == 0 {
		return nil, false
	}
	idx := make(map[string]Result, len(results))
	for _, r := range results {
		key := normalizeID(r.ID)
		if key == "" {
			return nil, false
		}
		if _, dup := idx[key]; dup {
			return nil, false
		}
		idx[key] = r
	}
	return idx, true
}

func rowsHaveDistinctIDs(rows []schema.Row) bool {
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		key := normalizeID(row.Key())
		if key == "" {
			return false
		}
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
	}
	return true
}

// normalizeID makes "0042", "42" and "42.0" compare equal. Non-numeric ids
// compare as text.
func normalizeID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	n := schema.ParseNumber(s)
	if n.Valid() {
		return n.String()
	}
	if s == "NaN" {
		return ""
	}
	return s
}
