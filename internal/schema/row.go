package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Row is one coerced record from an uploaded file. Only Response changes
// after ingestion. Numeric columns the schema does not carry are NaN.
type Row struct {
	ID                 Number
	IDText             string // id as written in the file
	Gender             string
	Age                Number
	DrivingLicense     Number
	RegionCode         Number
	PreviouslyInsured  Number
	VehicleAge         string
	VehicleDamage      string
	AnnualPremium      Number
	PolicySalesChannel Number
	Vintage            Number
	Response           Number
}

// WithResponse returns a copy of r with Response replaced.
func (r Row) WithResponse(v Number) Row {
	r.Response = v
	return r
}

// Key returns the identity used to match prediction results to rows.
func (r Row) Key() string {
	if r.IDText != "" {
		return r.IDText
	}
	return r.ID.String()
}

// Cell returns the display value of the named column and whether the
// column is known.
func (r Row) Cell(name string) (string, bool) {
	c, ok := columnIndex[name]
	if !ok {
		return "", false
	}
	if c.str != nil {
		return *c.str(&r), true
	}
	if name == "id" && r.IDText != "" {
		return r.IDText, true
	}
	return c.num(&r).String(), true
}

// column binds a header name to the Row field it populates. Exactly one
// of num and str is set.
type column struct {
	name string
	num  func(r *Row) *Number
	str  func(r *Row) *string
}

var columns = []column{
	{name: "id", num: func(r *Row) *Number { return &r.ID }},
	{name: "Gender", str: func(r *Row) *string { return &r.Gender }},
	{name: "Age", num: func(r *Row) *Number { return &r.Age }},
	{name: "Driving_License", num: func(r *Row) *Number { return &r.DrivingLicense }},
	{name: "Region_Code", num: func(r *Row) *Number { return &r.RegionCode }},
	{name: "Previously_Insured", num: func(r *Row) *Number { return &r.PreviouslyInsured }},
	{name: "Vehicle_Age", str: func(r *Row) *string { return &r.VehicleAge }},
	{name: "Vehicle_Damage", str: func(r *Row) *string { return &r.VehicleDamage }},
	{name: "Annual_Premium", num: func(r *Row) *Number { return &r.AnnualPremium }},
	{name: "Policy_Sales_Channel", num: func(r *Row) *Number { return &r.PolicySalesChannel }},
	{name: "Vintage", num: func(r *Row) *Number { return &r.Vintage }},
	{name: "Response", num: func(r *Row) *Number { return &r.Response }},
	{name: "response", num: func(r *Row) *Number { return &r.Response }},
}

var columnIndex = func() map[string]column {
	m := make(map[string]column, len(columns))
	for _, c := range columns {
		m[c.name] = c
	}
	return m
}()

// CoerceRow maps a raw header->text record onto a Row. Blank numeric cells
// are 0, cells that fail to parse or are absent from a short record become
// NaN, string fields are trimmed, and Response is parsed only when
// hasResponse is set; otherwise it is NoResponse. Headers the schema does
// not know are ignored.
func (s Schema) CoerceRow(raw map[string]string, hasResponse bool) Row {
	r := blankRow()
	for _, name := range s.Required {
		c, ok := columnIndex[name]
		if !ok {
			continue
		}
		v, present := raw[name]
		if c.str != nil {
			*c.str(&r) = strings.TrimSpace(v)
			continue
		}
		*c.num(&r) = parseCell(v, present)
		if name == "id" {
			r.IDText = strings.TrimSpace(v)
		}
	}

	r.Response = NoResponse
	if hasResponse {
		v, present := raw[s.ResponseHeader]
		r.Response = parseCell(v, present)
	}
	return r
}

func parseCell(v string, present bool) Number {
	if !present {
		return Invalid()
	}
	return ParseNumber(v)
}

// blankRow has every numeric column invalid and every text column empty.
func blankRow() Row {
	var r Row
	for _, c := range columns {
		if c.num != nil {
			*c.num(&r) = Invalid()
		}
	}
	return r
}

// MarshalJSON writes the row keyed by header name, in column order. The id
// is written as its text, so "0042" stays "0042". Empty text and invalid
// numbers are left out; UnmarshalJSON restores them.
func (r Row) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	write := func(name string, v any) error {
		enc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if b.Len() > 1 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		b.Write(key)
		b.WriteByte(':')
		b.Write(enc)
		return nil
	}

	if r.IDText != "" || r.ID.Valid() {
		if err := write("id", r.Key()); err != nil {
			return nil, err
		}
	}
	for _, c := range columns {
		if c.name == "id" || c.name == "response" {
			continue
		}
		var err error
		switch {
		case c.str != nil && *c.str(&r) != "":
			err = write(c.name, *c.str(&r))
		case c.num != nil && c.num(&r).Valid():
			err = write(c.name, *c.num(&r))
		}
		if err != nil {
			return nil, err
		}
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON reads the form MarshalJSON writes. The id may be a string
// or a number; "response" is accepted for "Response".
func (r *Row) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	out := blankRow()
	for name, v := range fields {
		c, ok := columnIndex[name]
		if !ok {
			continue
		}
		if name == "id" {
			if err := out.decodeID(v); err != nil {
				return err
			}
			continue
		}
		var err error
		if c.str != nil {
			err = json.Unmarshal(v, c.str(&out))
		} else {
			err = json.Unmarshal(v, c.num(&out))
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	*r = out
	return nil
}

func (r *Row) decodeID(v json.RawMessage) error {
	var text string
	if err := json.Unmarshal(v, &text); err == nil {
		text = strings.TrimSpace(text)
		r.IDText = text
		if text != "" {
			r.ID = ParseNumber(text)
		}
		return nil
	}
	if err := json.Unmarshal(v, &r.ID); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if r.ID.Valid() {
		r.IDText = string(bytes.TrimSpace(v))
	}
	return nil
}
