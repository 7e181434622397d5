package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"
	"unicode/utf16"

	"github.com/shopspring/decimal"
)

// Value is a sealed interface representing a single column value in a Row.
// Only Null, Text, Int, Bool and Decimal implement it.
//
// There is no float variant. Numeric columns that are not integral are
// carried as Decimal so amounts never pick up binary rounding.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents a SQL NULL.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Text represents a text column value.
type Text string

func (Text) value() {}

// Int represents an integer column value.
type Int int64

func (Int) value() {}

// Bool represents a boolean column value.
type Bool bool

func (Bool) value() {}

// Decimal represents an exact numeric column value (amounts, rates).
type Decimal struct {
	decimal.Decimal
}

func (Decimal) value() {}

// NewDecimal wraps a decimal.Decimal.
func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{Decimal: d}
}

// ParseDecimal parses a decimal string such as "1234.50".
func ParseDecimal(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return Decimal{Decimal: d}, nil
}

// MarshalJSON encodes a Decimal as a JSON string to keep it exact.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Row is one record returned by a data source: column name → Value.
// Use SortedKeys() for deterministic iteration.
type Row map[string]Value

// Get returns the value for a column, or Null when the column is absent.
func (r Row) Get(column string) Value {
	v, ok := r[column]
	if !ok || v == nil {
		return Null{}
	}
	return v
}

// ID returns the row's "id" column as a string.
func (r Row) ID() string {
	s, _ := AsString(r.Get("id"))
	return s
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces DIFFERENT order
// for keys outside the BMP.
func (r Row) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// MarshalJSON implements json.Marshaler for Row with sorted keys.
// This is NOT canonical marshaling; use MarshalCanonical for fingerprints.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(r.Get(k))
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue marshals a Value to JSON bytes.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case Text:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Decimal:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// FromSQL converts a value produced by database/sql scanning into a Value.
//
// Drivers hand back int64, float64, bool, []byte, string, time.Time or nil.
// float64 becomes Decimal; time.Time becomes RFC 3339 Text (dates without a
// time component become YYYY-MM-DD).
func FromSQL(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case int64:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int:
		return Int(val), nil
	case bool:
		return Bool(val), nil
	case string:
		return Text(val), nil
	case []byte:
		return Text(string(val)), nil
	case float64:
		return fromFloat(val)
	case float32:
		if err := checkFinite(float64(val)); err != nil {
			return nil, err
		}
		return Decimal{Decimal: decimal.NewFromFloat32(val)}, nil
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return Text(val.Format(time.DateOnly)), nil
		}
		return Text(val.UTC().Format(time.RFC3339Nano)), nil
	case decimal.Decimal:
		return Decimal{Decimal: val}, nil
	case Value:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported SQL value type: %T", v)
	}
}

// FromAny converts a loosely typed value (decoded YAML/JSON, CLI input) into
// a Value. Floats are converted to Decimal.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i), nil
		}
		return ParseDecimal(val.String())
	case uint64:
		return Int(int64(val)), nil
	case float64:
		if err := checkFinite(val); err != nil {
			return nil, err
		}
		if val == float64(int64(val)) {
			return Int(int64(val)), nil
		}
		return fromFloat(val)
	default:
		return FromSQL(v)
	}
}

// fromFloat converts a finite float to Decimal. NaN and infinities have no
// decimal form.
func fromFloat(f float64) (Value, error) {
	if err := checkFinite(f); err != nil {
		return nil, err
	}
	return Decimal{Decimal: decimal.NewFromFloat(f)}, nil
}

func checkFinite(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v cannot be a decimal", f)
	}
	return nil
}

// ToSQL converts a Value into a database/sql driver argument.
// Decimal is passed as its exact string form.
func ToSQL(v Value) (any, error) {
	switch val := v.(type) {
	case nil, Null:
		return nil, nil
	case Text:
		return string(val), nil
	case Int:
		return int64(val), nil
	case Bool:
		return bool(val), nil
	case Decimal:
		return val.String(), nil
	default:
		return nil, fmt.Errorf("unsupported Value type for SQL parameter: %T", v)
	}
}

// AsString returns the text form of Text, Int, Bool and Decimal values.
// The second result is false for Null.
func AsString(v Value) (string, bool) {
	switch val := v.(type) {
	case Text:
		return string(val), true
	case Int:
		return fmt.Sprintf("%d", int64(val)), true
	case Bool:
		if val {
			return "true", true
		}
		return "false", true
	case Decimal:
		return val.String(), true
	default:
		return "", false
	}
}

// AsDecimal interprets Decimal, Int and numeric Text values as a decimal.
func AsDecimal(v Value) (decimal.Decimal, error) {
	switch val := v.(type) {
	case Decimal:
		return val.Decimal, nil
	case Int:
		return decimal.NewFromInt(int64(val)), nil
	case Text:
		return decimal.NewFromString(string(val))
	case nil, Null:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("value of type %T is not numeric", v)
	}
}

// Equal reports whether two values are equal. Decimals compare numerically.
func Equal(a, b Value) bool {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}
	da, aDec := a.(Decimal)
	db, bDec := b.(Decimal)
	if aDec && bDec {
		return da.Equal(db.Decimal)
	}
	return a == b
}
