package schema

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func headerSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"insurance", "Insurance", " minimal "} {
		if _, err := Lookup(name); err != nil {
			t.Errorf("Lookup(%q) error: %v", name, err)
		}
	}
	_, err := Lookup("titanic")
	if err == nil {
		t.Fatal("Lookup(titanic) expected error")
	}
	for _, name := range Names() {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not list %q", err, name)
		}
	}
}

func TestMissing(t *testing.T) {
	all := headerSet(Insurance.Required...)
	if got := Insurance.Missing(all); got != "" {
		t.Errorf("Missing(all) = %q, want empty", got)
	}

	delete(all, "Region_Code")
	delete(all, "Vintage")
	if got := Insurance.Missing(all); got != "Region_Code" {
		t.Errorf("Missing = %q, want Region_Code", got)
	}

	if got := Minimal.Missing(headerSet("response")); got != "id" {
		t.Errorf("Minimal.Missing = %q, want id", got)
	}
}

func TestHasResponse(t *testing.T) {
	if Insurance.HasResponse(headerSet("id", "response")) {
		t.Error("insurance schema must match Response case-sensitively")
	}
	if !Insurance.HasResponse(headerSet("Response")) {
		t.Error("expected Response to be detected")
	}
	if !Minimal.HasResponse(headerSet("id", "response")) {
		t.Error("expected response to be detected")
	}
}

func TestCoerceRow_Insurance(t *testing.T) {
	raw := map[string]string{
		"id":                   "7",
		"Gender":               "  Male ",
		"Age":                  "23",
		"Driving_License":      "1",
		"Region_Code":          "28.0",
		"Previously_Insured":   "0",
		"Vehicle_Age":          "> 2 Years ",
		"Vehicle_Damage":       "Yes",
		"Annual_Premium":       "40454.0",
		"Policy_Sales_Channel": "26.0",
		"Vintage":              "217",
		"Response":             "1",
	}

	r := Insurance.CoerceRow(raw, true)
	if r.ID != 7 || r.IDText != "7" {
		t.Errorf("ID = %v/%q, want 7", r.ID, r.IDText)
	}
	if r.Gender != "Male" {
		t.Errorf("Gender = %q, want Male", r.Gender)
	}
	if r.VehicleAge != "> 2 Years" {
		t.Errorf("VehicleAge = %q, want trimmed", r.VehicleAge)
	}
	if r.RegionCode != 28 {
		t.Errorf("RegionCode = %v, want 28", r.RegionCode)
	}
	if r.AnnualPremium != 40454 {
		t.Errorf("AnnualPremium = %v, want 40454", r.AnnualPremium)
	}
	if r.Response != 1 {
		t.Errorf("Response = %v, want 1", r.Response)
	}
}

func TestCoerceRow_NoResponseHeader(t *testing.T) {
	raw := map[string]string{"id": "1", "Response": "1"}
	r := Insurance.CoerceRow(raw, false)
	if r.Response != NoResponse {
		t.Errorf("Response = %v, want sentinel -1", r.Response)
	}
}

func TestCoerceRow_InvalidNumbersPropagate(t *testing.T) {
	raw := map[string]string{"id": "abc", "Age": "", "Vintage": "12x", "Annual_Premium": "inf", "Response": " "}
	r := Insurance.CoerceRow(raw, true)

	nan := map[string]Number{
		"id":              r.ID,
		"Vintage":         r.Vintage,
		"Annual_Premium":  r.AnnualPremium,
		"Driving_License": r.DrivingLicense, // absent from the record
	}
	for name, n := range nan {
		if !math.IsNaN(float64(n)) {
			t.Errorf("%s = %v, want NaN", name, n)
		}
	}
	if r.Age != 0 || r.Response != 0 {
		t.Errorf("blank cells: Age = %v, Response = %v, want 0", r.Age, r.Response)
	}
	if r.IDText != "abc" {
		t.Errorf("IDText = %q, want abc", r.IDText)
	}
}

func TestCoerceRow_Minimal(t *testing.T) {
	r := Minimal.CoerceRow(map[string]string{"id": "11504798", "response": "0.25"}, true)
	if r.Key() != "11504798" {
		t.Errorf("Key = %q", r.Key())
	}
	if r.Response != 0.25 {
		t.Errorf("Response = %v, want 0.25", r.Response)
	}
}

func TestRowCell(t *testing.T) {
	r := Insurance.CoerceRow(map[string]string{"id": "0042", "Gender": "Female", "Age": "30"}, false)

	tests := []struct {
		col  string
		want string
	}{
		{"id", "0042"},
		{"Gender", "Female"},
		{"Age", "30"},
		{"Response", "-1"},
		{"Vintage", "NaN"},
	}
	for _, tt := range tests {
		got, ok := r.Cell(tt.col)
		if !ok {
			t.Errorf("Cell(%q) unknown", tt.col)
			continue
		}
		if got != tt.want {
			t.Errorf("Cell(%q) = %q, want %q", tt.col, got, tt.want)
		}
	}
	if _, ok := r.Cell("Premium"); ok {
		t.Error("Cell(Premium) should be unknown")
	}
}

func TestWithResponseLeavesOriginal(t *testing.T) {
	r := Insurance.CoerceRow(map[string]string{"id": "1"}, false)
	p := r.WithResponse(1)
	if r.Response != NoResponse {
		t.Errorf("original Response changed to %v", r.Response)
	}
	if p.Response != 1 || p.IDText != "1" {
		t.Errorf("copy = %+v", p)
	}
}

func TestNumberJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Number `json:"a"`
		B Number `json:"b"`
	}{A: 11504798, B: Invalid()})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"a":11504798,"b":null}` {
		t.Errorf("json = %s", b)
	}

	var got struct {
		A Number `json:"a"`
		B Number `json:"b"`
		C Number `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"3","b":null,"c":0.5}`), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.A != 3 || got.B.Valid() || got.C != 0.5 {
		t.Errorf("decoded = %+v", got)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in    string
		want  float64
		valid bool
	}{
		{"42", 42, true},
		{" 3.5 ", 3.5, true},
		{"-1", -1, true},
		{"1e3", 1000, true},
		{".5", 0.5, true},
		{"0x1A", 26, true},
		{"0b101", 5, true},
		{"", 0, true},
		{"   ", 0, true},
		{"yes", 0, false},
		{"inf", 0, false},
		{"Inf", 0, false},
		{"infinity", 0, false},
		{"nan", 0, false},
		{"NaN", 0, false},
		{"1_000", 0, false},
		{"0x1p-2", 0, false},
		{"-0x1A", 0, false},
	}
	for _, tt := range tests {
		n := ParseNumber(tt.in)
		if n.Valid() != tt.valid {
			t.Errorf("ParseNumber(%q).Valid() = %v, want %v", tt.in, n.Valid(), tt.valid)
			continue
		}
		if tt.valid && float64(n) != tt.want {
			t.Errorf("ParseNumber(%q) = %v, want %v", tt.in, n, tt.want)
		}
	}
}

func TestParseNumber_Infinity(t *testing.T) {
	if n := ParseNumber("Infinity"); !math.IsInf(float64(n), 1) {
		t.Errorf("Infinity = %v", n)
	}
	if n := ParseNumber("-Infinity"); !math.IsInf(float64(n), -1) {
		t.Errorf("-Infinity = %v", n)
	}
}

func TestRowJSON_KeepsIDText(t *testing.T) {
	for _, id := range []string{"0042", "abc", "11504798"} {
		r := Minimal.CoerceRow(map[string]string{"id": id}, false)
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("Marshal(%q): %v", id, err)
		}
		var got Row
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}
		if got.Key() != id || got.IDText != id {
			t.Errorf("id %q came back as %q (json %s)", id, got.Key(), b)
		}
		if !got.ID.Equal(r.ID) {
			t.Errorf("id %q: ID = %v, want %v", id, got.ID, r.ID)
		}
	}
}

func TestRowJSON_MinimalOmitsUnusedColumns(t *testing.T) {
	r := Minimal.CoerceRow(map[string]string{"id": "7", "response": "1"}, true)
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"id":"7","Response":1}` {
		t.Errorf("json = %s", b)
	}

	var got Row
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Age.Valid() || got.Vintage.Valid() || got.Gender != "" {
		t.Errorf("unused columns = %+v, want invalid and empty", got)
	}
	if got.Response != 1 {
		t.Errorf("Response = %v", got.Response)
	}
}

func TestNumberEqual(t *testing.T) {
	if !Invalid().Equal(Invalid()) {
		t.Error("invalid numbers should compare equal")
	}
	if Invalid().Equal(0) || Number(1).Equal(2) {
		t.Error("distinct values compared equal")
	}
	if !NoResponse.IsSentinel() || Number(0).IsSentinel() {
		t.Error("IsSentinel mismatch")
	}
}
