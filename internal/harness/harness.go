package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/cellcalc/internal/calc"
	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/event"
	"github.com/roach88/cellcalc/internal/funcs"
	"github.com/roach88/cellcalc/internal/loader"
	"github.com/roach88/cellcalc/internal/table"
	"github.com/roach88/cellcalc/internal/testutil"
)

// Option configures a scenario run.
type Option func(*runner)

// WithGetFunc replaces the built-in function registry.
func WithGetFunc(fn calc.GetFunc) Option {
	return func(r *runner) {
		r.getFunc = fn
	}
}

// WithObserver receives the table's events.
func WithObserver(o event.Observer) Option {
	return func(r *runner) {
		r.observer = o
	}
}

// WithLogger sets the table logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		r.logger = l
	}
}

type runner struct {
	getFunc  calc.GetFunc
	observer event.Observer
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// The table reads from an in-memory source. After each step the response
// is merged back into the source, the way a host persists it.
//
// Returns an error if the scenario cannot run at all; expectation
// mismatches are reported in Result.Errors.
func Run(s *Scenario, opts ...Option) (*Result, error) {
	r := &runner{
		getFunc:  funcs.Builtins().GetFunc,
		observer: event.Nop,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}

	cells, err := loader.ParseCells(s.path, s.Cells)
	if err != nil {
		return nil, fmt.Errorf("scenario cells: %w", err)
	}
	src := &source{cells: cells}

	tbl := table.New(src.get,
		table.WithGetFunc(r.getFunc),
		table.WithObserver(r.observer),
		table.WithIDGenerator(testutil.NewSequenceGenerator(s.Name)),
		table.WithLogger(r.logger))

	ctx := context.Background()
	result := NewResult()
	for i, step := range s.Steps {
		if len(step.Set) > 0 {
			edits, err := loader.ParseCells(s.path, step.Set)
			if err != nil {
				return nil, fmt.Errorf("steps[%d].set: %w", i, err)
			}
			src.apply(edits)
		}

		resp, err := tbl.CalculateSync(ctx, table.Request{Cells: step.Calculate})
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: calculate: %w", i, err)
		}
		src.apply(resp.Map)
		result.Responses = append(result.Responses, resp)

		if step.Expect != nil {
			checkExpect(result, i, step.Expect, resp)
		}
	}

	result.Cells = src.snapshot()
	return result, nil
}

func checkExpect(result *Result, step int, want *Expect, resp *table.Response) {
	fail := func(format string, args ...any) {
		result.AddError(fmt.Sprintf("step %d: ", step) + fmt.Sprintf(format, args...))
	}

	if want.OK != nil && *want.OK != resp.OK {
		fail("ok: expected %v, got %v", *want.OK, resp.OK)
	}

	if want.Keys != nil {
		expected := make([]cell.Key, len(want.Keys))
		for i, k := range want.Keys {
			expected[i] = keyOf(k)
		}
		got := make([]cell.Key, len(resp.List))
		for i, cr := range resp.List {
			got[i] = cr.Key
		}
		if !slices.Equal(expected, got) {
			fail("keys: expected %v, got %v", expected, got)
		}
	}

	for _, label := range sortedLabels(want.Values) {
		k := keyOf(label)
		d, ok := resp.Map[k]
		if !ok {
			fail("values.%s: cell not in response", k)
			continue
		}
		expected, err := cell.FromAny(want.Values[label])
		if err != nil {
			fail("values.%s: %v", k, err)
			continue
		}
		if !cell.Equal(expected, d.DisplayValue()) {
			fail("values.%s: expected %s, got %s", k, valueString(expected), valueString(d.DisplayValue()))
		}
	}

	for _, label := range sortedLabels(want.Errors) {
		k := keyOf(label)
		d, ok := resp.Map[k]
		if !ok {
			fail("errors.%s: cell not in response", k)
			continue
		}
		var got cell.ErrorType
		if d.Error != nil {
			got = d.Error.Type
		}
		if string(got) != want.Errors[label] {
			fail("errors.%s: expected %q, got %q", k, want.Errors[label], got)
		}
	}

	if want.Failed != nil && *want.Failed != resp.Failed() {
		fail("failed: expected %d, got %d", *want.Failed, resp.Failed())
	}
}

func valueString(v cell.Value) string {
	b, err := cell.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

func sortedLabels[V any](m map[string]V) []string {
	labels := make([]string, 0, len(m))
	for k := range m {
		labels = append(labels, k)
	}
	slices.Sort(labels)
	return labels
}

// source is the in-memory host table behind a scenario.
type source struct {
	mu    sync.Mutex
	cells cell.Cells
}

func (s *source) get(context.Context) (cell.Cells, error) {
	return s.snapshot(), nil
}

func (s *source) snapshot() cell.Cells {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cells.Clone()
}

func (s *source) apply(cells cell.Cells) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range cells {
		s.cells[k] = d
	}
}

// keyOf normalizes a scenario label. Labels are validated on load, so an
// invalid one only comes from a hand-built scenario and is kept verbatim.
func keyOf(label string) cell.Key {
	k, err := cell.Normalize(label)
	if err != nil {
		return cell.Key(label)
	}
	return k
}
