package schema

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a coerced numeric CSV value. NaN marks input that could not be
// parsed; it is carried through rather than rejected.
type Number float64

// NoResponse is the Response sentinel for rows that have not been predicted
// or whose source file had no Response column.
const NoResponse Number = -1

// Invalid returns the invalid-number value.
func Invalid() Number {
	return Number(math.NaN())
}

// ParseNumber trims s and parses it with the rules browsers apply to CSV
// cells: blank is 0, decimal and exponent forms parse, 0x/0o/0b integers
// parse, and only the exact spellings Infinity, +Infinity and -Infinity
// are infinite. Anything else, including Go-only forms such as "inf",
// "nan", hex floats and digit underscores, is the invalid-number value.
func ParseNumber(s string) Number {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return Number(math.Inf(1))
	case "-Infinity":
		return Number(math.Inf(-1))
	}

	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			if strings.ContainsRune(s, '_') {
				return Invalid()
			}
			u, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return Invalid()
			}
			return Number(u)
		}
	}

	for _, c := range s {
		if !strings.ContainsRune("0123456789+-.eE", c) {
			return Invalid()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Invalid()
	}
	return Number(f)
}

// Valid reports whether n holds a finite number.
func (n Number) Valid() bool {
	f := float64(n)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Equal reports whether n and m hold the same value. Unlike ==, two
// invalid numbers are equal, so re-parsing a file compares identical.
func (n Number) Equal(m Number) bool {
	if math.IsNaN(float64(n)) || math.IsNaN(float64(m)) {
		return math.IsNaN(float64(n)) && math.IsNaN(float64(m))
	}
	return n == m
}

// IsSentinel reports whether n is the NoResponse marker.
func (n Number) IsSentinel() bool {
	return n.Equal(NoResponse)
}

func (n Number) String() string {
	f := float64(n)
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MarshalJSON encodes invalid numbers as null.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(n), 'f', -1, 64), nil
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = Invalid()
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = ParseNumber(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*n = Number(f)
	return nil
}
