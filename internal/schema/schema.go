// Package schema defines the record layout accepted from uploaded CSV files
// and the coercion of raw text into typed rows.
package schema

import (
	"fmt"
	"strings"
)

// Schema describes the headers a file must carry. The insurance and
// minimal layouts are two configurations of the same type.
type Schema struct {
	Name string
	// Required headers, in the order they are checked and displayed.
	Required []string
	// ResponseHeader is optional in the file; its presence is detected once.
	ResponseHeader string
	// Continuous responses are probabilities rather than 0/1 labels.
	Continuous bool
}

// Insurance is the full insurance-application layout.
var Insurance = Schema{
	Name: "insurance",
	Required: []string{
		"id",
		"Gender",
		"Age",
		"Driving_License",
		"Region_Code",
		"Previously_Insured",
		"Vehicle_Age",
		"Vehicle_Damage",
		"Annual_Premium",
		"Policy_Sales_Channel",
		"Vintage",
	},
	ResponseHeader: "Response",
}

// Minimal is the two-column id/response layout.
var Minimal = Schema{
	Name:           "minimal",
	Required:       []string{"id"},
	ResponseHeader: "response",
	Continuous:     true,
}

// Lookup returns the built-in schema with the given name.
func Lookup(name string) (Schema, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, s := range builtin {
		if s.Name == key {
			return s, nil
		}
	}
	return Schema{}, fmt.Errorf("unknown schema %q (want one of %s)", name, strings.Join(Names(), ", "))
}

var builtin = []Schema{Insurance, Minimal}

// Names lists the built-in schema names.
func Names() []string {
	names := make([]string, len(builtin))
	for i, s := range builtin {
		names[i] = s.Name
	}
	return names
}

// Columns returns the required headers followed by the response header.
func (s Schema) Columns() []string {
	cols := make([]string, 0, len(s.Required)+1)
	cols = append(cols, s.Required...)
	return append(cols, s.ResponseHeader)
}

// Missing returns the first required header absent from headers, or "".
func (s Schema) Missing(headers map[string]bool) string {
	for _, h := range s.Required {
		if !headers[h] {
			return h
		}
	}
	return ""
}

// HasResponse reports whether the optional response header was observed.
func (s Schema) HasResponse(headers map[string]bool) bool {
	return headers[s.ResponseHeader]
}
