package api

import (
	"bytes"
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/kalambet/insurepredict/internal/present"
	"github.com/kalambet/insurepredict/internal/schema"
)

//go:embed page.html
var pageSource string

var pageTemplate = template.Must(template.New("page").Parse(pageSource))

// pageRows is how many rows the page fetches per table refresh.
const pageRows = 100

type pageData struct {
	Schema      string
	Columns     []string
	Example     template.HTML
	MaxRows     int
	PredictMode string
	PageRows    int
}

// exampleRows are the sample records shown above the upload control.
var exampleRows = map[string]map[string]string{
	schema.Insurance.Name: {
		"id": "1", "Gender": "Male", "Age": "23", "Driving_License": "1",
		"Region_Code": "5", "Previously_Insured": "0", "Vehicle_Age": ">2 Years",
		"Vehicle_Damage": "Yes", "Annual_Premium": "35000", "Policy_Sales_Channel": "26",
		"Vintage": "223",
	},
	schema.Minimal.Name: {"id": "11504798"},
}

func exampleTable(sch schema.Schema) template.HTML {
	raw, ok := exampleRows[sch.Name]
	if !ok {
		return ""
	}
	row := sch.CoerceRow(raw, false)

	var buf bytes.Buffer
	if err := present.RenderHTML(&buf, present.Build(sch, []schema.Row{row}, present.Full)); err != nil {
		slog.Warn("rendering example table failed", "error", err)
		return ""
	}
	// RenderHTML escapes every cell, so its output is safe to inline.
	return template.HTML(buf.String())
}

func handlePage(deps Deps) http.HandlerFunc {
	sch := deps.Sessions.Schema()
	data := pageData{
		Schema:      sch.Name,
		Columns:     sch.Columns(),
		Example:     exampleTable(sch),
		MaxRows:     deps.Sessions.MaxRows(),
		PredictMode: deps.Sessions.Predictor().Mode(),
		PageRows:    pageRows,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pageTemplate.Execute(w, data); err != nil {
			slog.Warn("rendering page failed", "error", err)
		}
	}
}
