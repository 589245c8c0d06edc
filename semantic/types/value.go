// Package types defines the data model of the semantic rule correlation
// engine: tagged record values, forensic records, semantic rules and
// conditions, and persisted match rows.
package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind tags a record value. Feather records arrive as JSON, so the closed
// set is string, number, bool, and null; anything else is stringified at
// decode time.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

// Value is a tagged record value. Condition evaluation switches on Kind
// instead of reflecting over interface{} payloads, so type mismatches are
// explicit rather than silently stringified.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind reports the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the canonical string form: the string itself, numbers in
// shortest decimal notation, booleans as "true"/"false", null as "".
func (v Value) AsString() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// AsNumber coerces the value to a float the way SQLite's CAST(x AS REAL)
// does: numbers pass through, strings contribute their leading numeric
// prefix (or 0), booleans map to 0/1, null to 0. The bool result reports
// whether the value carried any numeric content at all; callers that need
// strict numeric comparison check it.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindString:
		return numericPrefix(v.str)
	default:
		return 0, false
	}
}

// numericPrefix parses the leading numeric prefix of s, mirroring SQLite
// CAST AS REAL ("12abc" -> 12, "abc" -> 0 with ok=false).
func numericPrefix(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	// Longest parseable prefix
	for i := len(s) - 1; i > 0; i-- {
		if f, err := strconv.ParseFloat(s[:i], 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// MarshalJSON emits the native JSON form of the value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON tags the value by the JSON type of the payload. Arrays and
// objects are preserved in stringified form rather than rejected; forensic
// columns occasionally carry nested structures.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromJSON(raw)
	return nil
}

// FromJSON converts a decoded JSON value into a tagged Value.
func FromJSON(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case float64:
		return Number(t)
	case bool:
		return Bool(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return Number(f)
		}
		return String(t.String())
	default:
		// Nested structure: keep the JSON text
		b, err := json.Marshal(t)
		if err != nil {
			return Null()
		}
		return String(string(b))
	}
}
