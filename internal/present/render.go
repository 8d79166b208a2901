package present

import (
	"fmt"
	"html/template"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#2a3850"))
)

// RenderText draws t as a bordered table. An empty table prints "No rows.".
func RenderText(w io.Writer, t Table) error {
	if t.Empty() {
		_, err := fmt.Fprintln(w, "No rows.")
		return err
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(t.Headers...).
		Rows(t.Rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	_, err := fmt.Fprintln(w, tbl.String())
	return err
}

var htmlTable = template.Must(template.New("table").Parse(
	`<table class="rows">
<thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
`))

// RenderHTML writes t as an HTML table fragment. An empty table writes
// nothing.
func RenderHTML(w io.Writer, t Table) error {
	if t.Empty() {
		return nil
	}
	return htmlTable.Execute(w, t)
}
