// Package present turns rows into display tables for terminals and HTML.
// It never modifies the rows it is given.
package present

import (
	"fmt"
	"strings"

	"github.com/kalambet/insurepredict/internal/schema"
)

// Projection selects which columns a table shows.
type Projection int

const (
	// Full shows every column of the schema, Response last.
	Full Projection = iota
	// IDResponse shows only id and response.
	IDResponse
)

func (p Projection) String() string {
	if p == IDResponse {
		return "id-response"
	}
	return "full"
}

func ParseProjection(s string) (Projection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return Full, nil
	case "id-response", "id_response", "compact":
		return IDResponse, nil
	}
	return Full, fmt.Errorf("unknown projection %q (want full or id-response)", s)
}

// Table is a rendered-agnostic grid of display strings.
type Table struct {
	Headers []string
	Rows    [][]string
}

func (t Table) Empty() bool { return len(t.Rows) == 0 }

// Build formats rows under sch.
func Build(sch schema.Schema, rows []schema.Row, p Projection) Table {
	var headers []string
	if p == IDResponse {
		headers = []string{"id", "response"}
	} else {
		headers = sch.Columns()
	}

	t := Table{Headers: headers, Rows: make([][]string, 0, len(rows))}
	for _, row := range rows {
		cells := make([]string, len(headers))
		for i, h := range headers {
			cells[i] = formatCell(sch, row, h)
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func formatCell(sch schema.Schema, row schema.Row, header string) string {
	if header == sch.ResponseHeader || strings.EqualFold(header, "response") {
		return FormatResponse(sch, row.Response)
	}
	v, _ := row.Cell(header)
	return v
}

// FormatResponse renders the sentinel as blank and continuous values with
// two decimals.
func FormatResponse(sch schema.Schema, n schema.Number) string {
	switch {
	case n.IsSentinel():
		return ""
	case !n.Valid():
		return n.String()
	case sch.Continuous:
		return fmt.Sprintf("%.2f", float64(n))
	default:
		return n.String()
	}
}
