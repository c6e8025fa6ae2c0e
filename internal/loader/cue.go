package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// loadCUE loads a CUE fixture through the CUE loader, so the file may use
// package clauses and imports from its module.
func loadCUE(path string) (*Fixture, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: filepath.Dir(path)}
	instances := load.Instances([]string{filepath.Base(path)}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Path: path, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Path: path, Message: fmt.Sprintf("loading CUE: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	raw, err := fromCUE(value)
	if err != nil {
		return nil, &LoadError{Path: path, Message: err.Error()}
	}
	return raw.build(path)
}

func decodeCUE(path string, data []byte) (rawFixture, error) {
	value := cuecontext.New().CompileBytes(data, cue.Filename(path))
	return fromCUE(value)
}

func fromCUE(value cue.Value) (rawFixture, error) {
	if err := value.Err(); err != nil {
		return rawFixture{}, fmt.Errorf("building CUE value: %w", err)
	}

	var raw rawFixture
	if v := value.LookupPath(cue.ParsePath("name")); v.Exists() {
		s, err := v.String()
		if err != nil {
			return rawFixture{}, fmt.Errorf("name: %w", err)
		}
		raw.Name = s
	}
	if v := value.LookupPath(cue.ParsePath("description")); v.Exists() {
		s, err := v.String()
		if err != nil {
			return rawFixture{}, fmt.Errorf("description: %w", err)
		}
		raw.Description = s
	}

	cellsVal := value.LookupPath(cue.ParsePath("cells"))
	if !cellsVal.Exists() {
		return raw, nil
	}
	iter, err := cellsVal.Fields()
	if err != nil {
		return rawFixture{}, fmt.Errorf("cells: %w", err)
	}
	raw.Cells = make(map[string]any)
	for iter.Next() {
		v, err := cueToAny(iter.Value())
		if err != nil {
			return rawFixture{}, fmt.Errorf("cells.%s: %w", iter.Label(), err)
		}
		raw.Cells[iter.Label()] = v
	}
	return raw, nil
}

// cueToAny converts a concrete CUE value to plain Go data. Numbers become
// float64 regardless of CUE kind.
func cueToAny(v cue.Value) (any, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		return v.Bool()
	case cue.StringKind:
		return v.String()
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		return v.Float64()
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, err
		}
		var out []any
		for iter.Next() {
			elem, err := cueToAny(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		out := make(map[string]any)
		for iter.Next() {
			field, err := cueToAny(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Label(), err)
			}
			out[iter.Label()] = field
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported CUE kind %v", v.IncompleteKind())
	}
}
