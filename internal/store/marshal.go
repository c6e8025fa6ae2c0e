package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/cellcalc/internal/cell"
)

// marshalValue converts a cell value to canonical JSON TEXT for storage.
// Deferred values are resolved first.
func marshalValue(v cell.Value) (string, error) {
	data, err := cell.MarshalCanonical(cell.Resolve(v))
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// marshalProps converts props to canonical JSON TEXT for storage.
func marshalProps(p cell.Props) (string, error) {
	obj := make(map[string]any, len(p))
	for k, v := range p {
		obj[k] = cell.Resolve(v)
	}
	data, err := cell.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal props: %w", err)
	}
	return string(data), nil
}

// marshalError converts a FuncError to JSON TEXT, or NULL when there is none.
func marshalError(fe *cell.FuncError) (sql.NullString, error) {
	if fe == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(fe)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal error: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalValue(data string) (cell.Value, error) {
	v, err := cell.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

// unmarshalProps parses props TEXT. Empty objects yield nil props.
func unmarshalProps(data string) (cell.Props, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal props: %w", err)
	}
	props := make(cell.Props, len(raw))
	for k, pv := range raw {
		v, err := cell.UnmarshalValue(pv)
		if err != nil {
			return nil, fmt.Errorf("unmarshal props.%s: %w", k, err)
		}
		props[k] = v
	}
	return props, nil
}

func unmarshalError(data sql.NullString) (*cell.FuncError, error) {
	if !data.Valid {
		return nil, nil
	}
	var fe cell.FuncError
	if err := json.Unmarshal([]byte(data.String), &fe); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}
	return &fe, nil
}
