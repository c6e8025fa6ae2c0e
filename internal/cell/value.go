package cell

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface representing the content of a cell.
// Only Null, Number, Text, Bool, List, and Deferred implement it.
//
// Deferred is the one non-scalar variant: it is only ever found in raw
// stored values (fixtures) and is replaced by Resolve before a value is
// handed to formula code or written to Props.
type Value interface {
	cellValue() // Sealed
}

// Null is the empty value. A missing cell reads as Null.
type Null struct{}

func (Null) cellValue() {}

// Number is a numeric value.
type Number float64

func (Number) cellValue() {}

// Text is a string value. Text beginning with "=" is a formula.
type Text string

func (Text) cellValue() {}

// Bool is a logical value.
type Bool bool

func (Bool) cellValue() {}

// List is an ordered set of values, produced when a range operand is
// resolved for a function call.
type List []Value

func (List) cellValue() {}

// Deferred is a zero-argument callable standing in for a value. It is
// resolved eagerly via Resolve.
type Deferred func() Value

func (Deferred) cellValue() {}

// Resolve unwraps Deferred values (repeatedly, in case a Deferred returns
// another Deferred) and resolves List elements. A nil value resolves to Null.
func Resolve(v Value) Value {
	for {
		switch val := v.(type) {
		case nil:
			return Null{}
		case Deferred:
			if val == nil {
				return Null{}
			}
			v = val()
		case List:
			out := make(List, len(val))
			for i, elem := range val {
				out[i] = Resolve(elem)
			}
			return out
		default:
			return v
		}
	}
}

// IsFormula reports whether v is formula text ("=...").
func IsFormula(v Value) bool {
	t, ok := v.(Text)
	return ok && strings.HasPrefix(string(t), "=")
}

// FormulaText returns the formula body without the leading "=".
func FormulaText(v Value) (string, bool) {
	if !IsFormula(v) {
		return "", false
	}
	return strings.TrimPrefix(string(v.(Text)), "="), true
}

// IsEmpty reports whether v carries no content (nil, Null, or empty Text).
func IsEmpty(v Value) bool {
	switch val := v.(type) {
	case nil, Null:
		return true
	case Text:
		return val == ""
	default:
		return false
	}
}

// Equal reports whether two resolved values are identical.
func Equal(a, b Value) bool {
	a, b = Resolve(a), Resolve(b)
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Number:
		bv, ok := b.(Number)
		return ok && av == bv
	case Text:
		bv, ok := b.(Text)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Format renders a value for display.
func Format(v Value) string {
	switch val := Resolve(v).(type) {
	case Null:
		return ""
	case Number:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	case Text:
		return string(val)
	case Bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case List:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = Format(elem)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// FromAny converts a decoded Go value (from YAML, JSON, CUE, or test code)
// into a Value.
//
// Supported: nil, bool, string, all integer and float kinds, json.Number,
// []any, Value, func() Value and func() any (as Deferred).
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case func() Value:
		return Deferred(val), nil
	case func() any:
		return Deferred(func() Value {
			out, err := FromAny(val())
			if err != nil {
				return Null{}
			}
			return out
		}), nil
	case bool:
		return Bool(val), nil
	case string:
		return Text(val), nil
	case int:
		return Number(val), nil
	case int8:
		return Number(val), nil
	case int16:
		return Number(val), nil
	case int32:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case uint:
		return Number(val), nil
	case uint8:
		return Number(val), nil
	case uint16:
		return Number(val), nil
	case uint32:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case float32:
		return Number(val), nil
	case float64:
		return Number(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return Number(f), nil
	case []any:
		out := make(List, len(val))
		for i, elem := range val {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported cell value type: %T", v)
	}
}

// MustFromAny is like FromAny but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFromAny(v any) Value {
	out, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return out
}

// ToAny converts a Value into plain Go data for encoding.
// Deferred values are resolved first.
func ToAny(v Value) (any, error) {
	switch val := Resolve(v).(type) {
	case Null:
		return nil, nil
	case Number:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite number: %v", f)
		}
		return f, nil
	case Text:
		return string(val), nil
	case Bool:
		return bool(val), nil
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			ev, err := ToAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown cell value type: %T", v)
	}
}

// MarshalValue encodes a value as JSON.
func MarshalValue(v Value) ([]byte, error) {
	a, err := ToAny(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(a)
}

// UnmarshalValue decodes JSON into a Value.
func UnmarshalValue(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}
