package cell

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// PropValue is the Props key holding the last calculated display value.
const PropValue = "value"

// Props holds auxiliary cell properties. The "value" entry is the last
// calculated display value of a formula cell.
type Props map[string]Value

// Value returns the calculated display value, if set.
func (p Props) Value() (Value, bool) {
	v, ok := p[PropValue]
	return v, ok
}

// Clone returns a shallow copy. Values are immutable so a shallow copy is a
// full snapshot.
func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// CellData is an immutable snapshot of one cell.
//
// Mutation helpers (WithValue, WithPropValue, WithError) return a new
// CellData and never modify the receiver's Props map, so callers may compare
// before/after snapshots safely.
type CellData struct {
	// Value is the raw stored content: a literal or formula text.
	Value Value

	// Props holds auxiliary properties, including the calculated value.
	Props Props

	// Error is set when the last evaluation failed.
	Error *FuncError

	// Hash is the content hash of Value, Props and Error (see Hash).
	Hash string

	// errorSet marks Error as explicitly assigned, so a nil Error means
	// "cleared" rather than "never touched".
	errorSet bool
}

// New creates CellData holding a raw value.
func New(v Value) CellData {
	return CellData{Value: v}
}

// Clone returns a copy that shares no mutable state with d.
func (d CellData) Clone() CellData {
	out := d
	out.Props = d.Props.Clone()
	out.Error = d.Error.Clone()
	return out
}

// WithValue returns a copy with the raw value replaced.
func (d CellData) WithValue(v Value) CellData {
	out := d.Clone()
	out.Value = v
	return out
}

// WithPropValue returns a copy with Props["value"] set to the resolved v.
// Other props are preserved.
func (d CellData) WithPropValue(v Value) CellData {
	out := d.Clone()
	if out.Props == nil {
		out.Props = Props{}
	}
	out.Props[PropValue] = Resolve(v)
	return out
}

// WithoutPropValue returns a copy with Props["value"] removed.
func (d CellData) WithoutPropValue() CellData {
	out := d.Clone()
	delete(out.Props, PropValue)
	if len(out.Props) == 0 {
		out.Props = nil
	}
	return out
}

// WithError returns a copy with the error explicitly assigned. Passing nil
// records an explicit clear.
func (d CellData) WithError(err *FuncError) CellData {
	out := d.Clone()
	out.Error = err.Clone()
	out.errorSet = true
	return out
}

// WithHash returns a copy with Hash set.
func (d CellData) WithHash(hash string) CellData {
	out := d
	out.Hash = hash
	return out
}

// ErrorSet reports whether Error was explicitly assigned (including a clear).
func (d CellData) ErrorSet() bool {
	return d.errorSet || d.Error != nil
}

// IsFormula reports whether the raw value is a formula.
func (d CellData) IsFormula() bool {
	return IsFormula(Resolve(d.Value))
}

// Resolved returns a copy with Deferred values in Value and Props resolved.
func (d CellData) Resolved() CellData {
	out := d.Clone()
	if out.Value != nil {
		out.Value = Resolve(out.Value)
	}
	for k, v := range out.Props {
		out.Props[k] = Resolve(v)
	}
	return out
}

// DisplayValue returns the value a dependent formula reads from this cell:
// the calculated value for formulas, the raw value otherwise.
func (d CellData) DisplayValue() Value {
	if d.IsFormula() {
		if v, ok := d.Props.Value(); ok {
			return Resolve(v)
		}
		return Null{}
	}
	return Resolve(d.Value)
}

// cellJSON is the wire shape of CellData.
type cellJSON struct {
	Value json.RawMessage            `json:"value,omitempty"`
	Props map[string]json.RawMessage `json:"props,omitempty"`
	Error json.RawMessage            `json:"error,omitempty"`
	Hash  string                     `json:"hash,omitempty"`
}

// MarshalJSON encodes the cell with deterministic key order. An explicitly
// cleared error is written as "error": null.
func (d CellData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	field := func(name string, raw []byte) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(`"` + name + `":`)
		buf.Write(raw)
	}

	if d.Value != nil {
		raw, err := MarshalValue(d.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		field("value", raw)
	}

	if len(d.Props) > 0 {
		raw, err := marshalProps(d.Props)
		if err != nil {
			return nil, err
		}
		field("props", raw)
	}

	switch {
	case d.Error != nil:
		raw, err := json.Marshal(d.Error)
		if err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}
		field("error", raw)
	case d.errorSet:
		field("error", []byte("null"))
	}

	if d.Hash != "" {
		raw, _ := json.Marshal(d.Hash)
		field("hash", raw)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the wire shape. A present "error": null marks the
// error as explicitly cleared.
func (d *CellData) UnmarshalJSON(data []byte) error {
	var raw cellJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := CellData{Hash: raw.Hash}
	if len(raw.Value) > 0 {
		v, err := UnmarshalValue(raw.Value)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		out.Value = v
	}

	if len(raw.Props) > 0 {
		out.Props = make(Props, len(raw.Props))
		for k, pv := range raw.Props {
			v, err := UnmarshalValue(pv)
			if err != nil {
				return fmt.Errorf("props.%s: %w", k, err)
			}
			out.Props[k] = v
		}
	}

	if len(raw.Error) > 0 {
		out.errorSet = true
		if string(raw.Error) != "null" {
			var fe FuncError
			if err := json.Unmarshal(raw.Error, &fe); err != nil {
				return fmt.Errorf("error: %w", err)
			}
			out.Error = &fe
		}
	}

	*d = out
	return nil
}

func marshalProps(p Props) ([]byte, error) {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := MarshalValue(p[k])
		if err != nil {
			return nil, fmt.Errorf("marshal props.%s: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Cells is a table snapshot keyed by cell.
type Cells map[Key]CellData

// Keys returns the snapshot's keys in column/row order.
func (c Cells) Keys() []Key {
	keys := make([]Key, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Clone returns a deep copy of the snapshot.
func (c Cells) Clone() Cells {
	out := make(Cells, len(c))
	for k, v := range c {
		out[k] = v.Clone()
	}
	return out
}
