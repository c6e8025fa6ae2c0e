// Package loader reads table fixtures from YAML, JSON and CUE files.
//
// Every format has the same shape: optional name and description, and a
// cells map. A cell entry is either a bare value or an object with value
// and props:
//
//	name: budget
//	cells:
//	  A1: 10
//	  A2: "=A1+B1"
//	  B1:
//	    value: 5
//	    props: {format: "0.0"}
package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cellcalc/internal/cell"
)

// Format identifies a fixture encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// Fixture is a loaded table.
type Fixture struct {
	Name        string
	Description string
	Cells       cell.Cells
}

// LoadError reports a fixture problem, with the cell when one is at fault.
type LoadError struct {
	Path    string
	Cell    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Cell != "" {
		return fmt.Sprintf("%s: cell %s: %s", e.Path, e.Cell, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// IsLoadError reports whether err is a fixture content error.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported fixture extension %q", filepath.Ext(path))
	}
}

// Load reads a fixture file, choosing the decoder by extension.
func Load(path string) (*Fixture, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	if format == FormatCUE {
		return loadCUE(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Decode(format, path, data)
}

// Decode parses fixture bytes. path is used in error messages only. CUE
// fixtures are compiled from the bytes directly.
func Decode(format Format, path string, data []byte) (*Fixture, error) {
	var (
		raw rawFixture
		err error
	)
	switch format {
	case FormatYAML:
		raw, err = decodeYAML(data)
	case FormatJSON:
		raw, err = decodeJSON(data)
	case FormatCUE:
		raw, err = decodeCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", format)
	}
	if err != nil {
		return nil, &LoadError{Path: path, Message: err.Error()}
	}
	return raw.build(path)
}

// rawFixture is the decoded document before cell conversion.
type rawFixture struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Cells       map[string]any `yaml:"cells" json:"cells"`
}

func decodeYAML(data []byte) (rawFixture, error) {
	var raw rawFixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&raw); err != nil {
		return rawFixture{}, fmt.Errorf("parse YAML: %w", err)
	}
	return raw, nil
}

func decodeJSON(data []byte) (rawFixture, error) {
	var raw rawFixture
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return rawFixture{}, fmt.Errorf("parse JSON: %w", err)
	}
	return raw, nil
}

func (r rawFixture) build(path string) (*Fixture, error) {
	cells, err := ParseCells(path, r.Cells)
	if err != nil {
		return nil, err
	}

	f := &Fixture{
		Name:        r.Name,
		Description: r.Description,
		Cells:       cells,
	}
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// ParseCells converts a decoded cells map into a snapshot. Keys are
// normalized; entries are bare values or {value, props} objects.
func ParseCells(path string, raw map[string]any) (cell.Cells, error) {
	if len(raw) == 0 {
		return nil, &LoadError{Path: path, Message: "cells map is required and must be non-empty"}
	}

	cells := make(cell.Cells, len(raw))
	for label, entry := range raw {
		key, err := cell.Normalize(label)
		if err != nil {
			return nil, &LoadError{Path: path, Cell: label, Message: err.Error()}
		}
		if _, dup := cells[key]; dup {
			return nil, &LoadError{Path: path, Cell: label, Message: "duplicate cell after normalization"}
		}
		data, err := cellData(entry)
		if err != nil {
			return nil, &LoadError{Path: path, Cell: label, Message: err.Error()}
		}
		cells[key] = data
	}
	return cells, nil
}

// cellData converts one entry: a bare value or {value, props}.
func cellData(entry any) (cell.CellData, error) {
	obj, ok := asObject(entry)
	if !ok {
		v, err := cell.FromAny(entry)
		if err != nil {
			return cell.CellData{}, err
		}
		return cell.New(v), nil
	}

	for k := range obj {
		if k != "value" && k != "props" {
			return cell.CellData{}, fmt.Errorf("unknown field %q", k)
		}
	}

	v, err := cell.FromAny(obj["value"])
	if err != nil {
		return cell.CellData{}, fmt.Errorf("value: %w", err)
	}
	d := cell.New(v)

	if rawProps, ok := obj["props"]; ok && rawProps != nil {
		props, ok := asObject(rawProps)
		if !ok {
			return cell.CellData{}, fmt.Errorf("props must be an object, got %T", rawProps)
		}
		d.Props = make(cell.Props, len(props))
		for k, pv := range props {
			p, err := cell.FromAny(pv)
			if err != nil {
				return cell.CellData{}, fmt.Errorf("props.%s: %w", k, err)
			}
			d.Props[k] = p
		}
	}
	return d, nil
}

// asObject accepts the map shapes produced by the YAML, JSON and CUE decoders.
func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
