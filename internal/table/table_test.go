package table

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/event"
	"github.com/roach88/cellcalc/internal/funcs"
	"github.com/roach88/cellcalc/internal/refs"
)

// source is an editable cell store.
type source struct {
	mu    sync.Mutex
	cells cell.Cells
	calls int
}

func newSource(values map[cell.Key]any) *source {
	s := &source{cells: cell.Cells{}}
	for k, v := range values {
		s.cells[k] = cell.New(cell.MustFromAny(v))
	}
	return s
}

func (s *source) set(k cell.Key, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[k] = s.cells[k].WithValue(cell.MustFromAny(v))
}

// apply stores a response's map, the way a persistence layer would.
func (s *source) apply(resp *Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range resp.Map {
		s.cells[k] = d
	}
}

func (s *source) get(context.Context) (cell.Cells, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.cells.Clone(), nil
}

func newTestTable(s *source, opts ...Option) *Table {
	opts = append([]Option{WithGetFunc(funcs.Builtins().GetFunc)}, opts...)
	return New(s.get, opts...)
}

func calculate(t *testing.T, tbl *Table, keys ...string) *Response {
	t.Helper()
	resp, err := tbl.CalculateSync(context.Background(), Request{Cells: keys})
	require.NoError(t, err)
	return resp
}

func propValue(t *testing.T, d cell.CellData) cell.Value {
	t.Helper()
	v, ok := d.Props.Value()
	require.True(t, ok, "cell has no calculated value: %+v", d)
	return v
}

// ============================================================================
// Scenarios
// ============================================================================

func TestCalculateExpandsToDependents(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": 10, "A2": "=A1+B1", "B1": 5})
	tbl := newTestTable(s)

	resp := calculate(t, tbl, "A1")

	assert.True(t, resp.OK)
	assert.NotEmpty(t, resp.EID)
	assert.Equal(t, []cell.Key{"A1", "A2"}, resp.Keys())

	assert.Equal(t, cell.Number(10), resp.Map["A1"].Value)
	assert.Nil(t, resp.Map["A1"].Props)
	assert.Equal(t, cell.Number(15), propValue(t, resp.Map["A2"]))
	assert.Equal(t, cell.Text("=A1+B1"), resp.Map["A2"].Value)

	require.Len(t, resp.List, 2)
	assert.Equal(t, cell.Key("A1"), resp.List[0].Key, "requested cells come first")
	for _, r := range resp.List {
		assert.NotEmpty(t, r.Data.Hash)
		assert.Equal(t, resp.Map[r.Key], r.Data)
	}
}

func TestCalculateFunction(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": "=SUM(1,2)"})
	resp := calculate(t, newTestTable(s))

	assert.True(t, resp.OK)
	assert.Equal(t, cell.Number(3), propValue(t, resp.Map["A1"]))
}

func TestCalculateIfGuardsDivision(t *testing.T) {
	s := newSource(map[cell.Key]any{
		"A1": 0,
		"B1": 5,
		"B2": "=1/0",
		"C1": "=IF(A1>0,B1/A1,0)",
		"C2": "=IF(A1=0,-1,B2)",
	})
	resp := calculate(t, newTestTable(s))

	assert.Equal(t, cell.Number(0), propValue(t, resp.Map["C1"]))
	assert.Equal(t, cell.Number(-1), propValue(t, resp.Map["C2"]), "an erroring cell in the skipped branch is not read")
	assert.Nil(t, resp.Map["C2"].Error)
}

func TestCalculateSelfReference(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": "=A1"})
	resp := calculate(t, newTestTable(s))

	require.Len(t, resp.List, 1)
	assert.False(t, resp.List[0].OK)
	assert.True(t, cell.IsCircular(resp.Map["A1"].Error))
	assert.True(t, resp.OK, "cell errors are recovered locally")
}

func TestCalculateCycleContainment(t *testing.T) {
	s := newSource(map[cell.Key]any{
		"A14": "=A15",
		"A15": "=A14",
		"A16": "=A15",
		"A17": 1,
		"A18": "=A18",
	})
	resp := calculate(t, newTestTable(s))

	assert.True(t, cell.IsCircular(resp.Map["A14"].Error))
	assert.True(t, cell.IsCircular(resp.Map["A15"].Error))
	assert.True(t, cell.IsCircular(resp.Map["A18"].Error))
	assert.True(t, cell.IsUnresolved(resp.Map["A16"].Error))
	assert.Nil(t, resp.Map["A17"].Error)
	assert.Equal(t, 4, resp.Failed())

	// A16 alone is not on a cycle
	m, err := newTestTable(s).RefsTable().Refs(context.Background(), []string{"A16"}, false)
	require.NoError(t, err)
	assert.Empty(t, m.Errors)
}

func TestCalculateWithoutGetFunc(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": "=ANYTHING(1)", "A2": "=ns.OTHER()"})
	resp, err := New(s.get).CalculateSync(context.Background(), Request{})
	require.NoError(t, err)

	assert.True(t, resp.OK)
	assert.Zero(t, resp.Failed())
	assert.Equal(t, cell.Null{}, propValue(t, resp.Map["A1"]))
	assert.Equal(t, cell.Null{}, propValue(t, resp.Map["A2"]))
}

// ============================================================================
// Closure
// ============================================================================

func TestCalculateThreeHopChain(t *testing.T) {
	s := newSource(map[cell.Key]any{
		"A1": 1,
		"A2": "=A1+1",
		"A3": "=A2+1",
		"A4": "=A3+1",
		"B9": "=7",
	})
	tbl := newTestTable(s)
	s.apply(calculate(t, tbl))

	s.set("A1", 10)
	resp := calculate(t, tbl, "A1")

	assert.Equal(t, []cell.Key{"A1", "A2", "A3", "A4"}, resp.Keys(), "unrelated B9 is excluded")
	assert.Equal(t, cell.Number(13), propValue(t, resp.Map["A4"]))
}

func TestCalculateRangeDependents(t *testing.T) {
	s := newSource(map[cell.Key]any{
		"A1": 1,
		"A2": 2,
		"B1": "=SUM(A1:A2)",
		"C1": "=B1*10",
	})
	tbl := newTestTable(s)

	resp := calculate(t, tbl, "A2")
	assert.Equal(t, []cell.Key{"A2", "B1", "C1"}, resp.Keys())
	assert.Equal(t, cell.Number(30), propValue(t, resp.Map["C1"]))
}

func TestCalculateRangeRequest(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": 1, "A2": 2, "A3": "=A1+A2", "D4": 9})
	resp := calculate(t, newTestTable(s), "A1:A2")

	assert.Equal(t, []cell.Key{"A1", "A2", "A3"}, resp.Keys())
}

func TestCalculateSeesNewDependency(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": 1, "B1": 2, "C1": "=A1"})
	tbl := newTestTable(s)
	s.apply(calculate(t, tbl))

	// C1 now reads B1 instead of A1
	s.set("C1", "=B1*100")
	resp := calculate(t, tbl, "C1")
	assert.Equal(t, cell.Number(200), propValue(t, resp.Map["C1"]))
	s.apply(resp)

	s.set("B1", 3)
	resp = calculate(t, tbl, "B1")
	assert.Equal(t, []cell.Key{"B1", "C1"}, resp.Keys())
	assert.Equal(t, cell.Number(300), propValue(t, resp.Map["C1"]))

	resp = calculate(t, tbl, "A1")
	assert.Equal(t, []cell.Key{"A1"}, resp.Keys(), "the old dependency is gone")
}

// ============================================================================
// Diff assembly
// ============================================================================

func TestCalculateIdempotent(t *testing.T) {
	s := newSource(map[cell.Key]any{
		"A1": 2,
		"A2": "=A1*A1",
		"A3": `=CONCAT("x", A2)`,
		"A4": "=A4",
	})
	tbl := newTestTable(s)

	first := calculate(t, tbl)
	second := calculate(t, tbl)

	a, err := json.Marshal(first.Map)
	require.NoError(t, err)
	b, err := json.Marshal(second.Map)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.NotEqual(t, first.EID, second.EID)
}

func TestCalculatePreservesProps(t *testing.T) {
	s := newSource(nil)
	s.cells["A1"] = cell.New(cell.Number(4))
	s.cells["A2"] = cell.CellData{
		Value: cell.Text("=A1*2"),
		Props: cell.Props{"format": cell.Text("0.00"), cell.PropValue: cell.Number(1)},
	}
	before := s.cells["A2"]

	resp := calculate(t, newTestTable(s), "A1")

	got := resp.Map["A2"]
	assert.Equal(t, cell.Text("0.00"), got.Props["format"])
	assert.Equal(t, cell.Number(8), propValue(t, got))
	assert.Equal(t, cell.Number(1), before.Props[cell.PropValue], "previous snapshot is untouched")
}

func TestCalculateKeepsLastValueOnError(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": 3, "A2": "=A1*5"})
	tbl := newTestTable(s)
	s.apply(calculate(t, tbl))

	s.set("A2", "=A1/0")
	resp := calculate(t, tbl, "A2")

	got := resp.Map["A2"]
	require.NotNil(t, got.Error)
	assert.Equal(t, cell.ErrInvoke, got.Error.Type)
	assert.Equal(t, cell.Number(15), propValue(t, got), "stale value stays next to the error")
}

func TestCalculateRecordsErrorClear(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": "=A1"})
	tbl := newTestTable(s)
	s.apply(calculate(t, tbl))
	require.NotNil(t, s.cells["A1"].Error)

	s.set("A1", "=1+1")
	resp := calculate(t, tbl, "A1")

	got := resp.Map["A1"]
	assert.Nil(t, got.Error)
	assert.True(t, got.ErrorSet(), "clear is distinguishable from untouched")

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"error":null`)
}

func TestCalculateResolvesDeferred(t *testing.T) {
	s := newSource(nil)
	s.cells["A1"] = cell.New(cell.Deferred(func() cell.Value { return cell.Number(6) }))
	s.cells["A2"] = cell.New(cell.Text("=A1+1"))

	resp := calculate(t, newTestTable(s), "A1")

	assert.Equal(t, cell.Number(6), resp.Map["A1"].Value)
	assert.Equal(t, cell.Number(7), propValue(t, resp.Map["A2"]))
}

func TestCalculateMissingTarget(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": 1})
	resp := calculate(t, newTestTable(s), "z9")

	require.Contains(t, resp.Map, cell.Key("Z9"))
	assert.Equal(t, cell.Null{}, resp.Map["Z9"].Value)
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestCalculateExposesEIDBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	blocking := func(ctx context.Context) (cell.Cells, error) {
		<-release
		return cell.Cells{"A1": cell.New(cell.Number(1))}, nil
	}
	tbl := New(blocking, WithIDGenerator(NewFixedGenerator("eid-1")))

	c := tbl.Calculate(context.Background(), Request{})
	assert.Equal(t, "eid-1", c.EID)

	select {
	case <-c.Done():
		t.Fatal("calculation finished before cells were available")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "wait honors its own context")

	close(release)
	resp, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eid-1", resp.EID)
}

func TestCalculateGetCellsFailure(t *testing.T) {
	var (
		mu     sync.Mutex
		events []event.Event
	)
	obs := event.ObserverFunc(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	broken := func(context.Context) (cell.Cells, error) { return nil, errors.New("db offline") }
	tbl := New(broken, WithObserver(obs))

	_, err := tbl.CalculateSync(context.Background(), Request{Cells: []string{"A1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db offline")

	require.Len(t, events, 2)
	assert.Equal(t, event.TableEnd, events[1].Type)
	assert.False(t, events[1].OK)
}

func TestCalculateBadRequest(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": 1})
	_, err := newTestTable(s).CalculateSync(context.Background(), Request{Cells: []string{"not a key"}})
	assert.Error(t, err)
}

func TestCalculateEvents(t *testing.T) {
	var (
		mu    sync.Mutex
		types []event.Type
	)
	obs := event.ObserverFunc(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	})
	s := newSource(map[cell.Key]any{"A1": 1, "A2": "=A1"})
	calculate(t, newTestTable(s, WithObserver(obs)))

	assert.Equal(t, []event.Type{
		event.TableBegin,
		event.CalcBegin,
		event.CalcCell,
		event.CalcCell,
		event.CalcEnd,
		event.TableEnd,
	}, types)
}

func TestHandles(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": 1, "A2": "=A1"})
	shared := refs.New(
		func(context.Context) ([]cell.Key, error) { return s.cells.Keys(), nil },
		func(_ context.Context, k cell.Key) (cell.Value, error) { return s.cells[k].Value, nil },
		nil)

	tbl := New(s.get, WithRefsTable(shared))
	assert.Same(t, shared, tbl.RefsTable())
	assert.Same(t, shared.Cache(), tbl.Cache())
	assert.NotNil(t, tbl.GetFunc())
	assert.NotNil(t, tbl.GetCells())

	calculate(t, tbl, "A1")
	assert.True(t, tbl.Cache().Exists("out:A2"), "calculation populates the shared cache")
}

func TestSnapshotLoadsOnce(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": 1, "A2": "=A1"})
	tbl := newTestTable(s)

	in, err := tbl.RefsTable().Incoming(context.Background(), "A1")
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, cell.Key("A2"), in[0].Key)

	_, err = tbl.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.calls)
}

func TestConcurrentCalculations(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": 1, "A2": "=A1+1", "A3": "=A2+1", "B1": "=SUM(A1:A3)"})
	tbl := newTestTable(s, WithConcurrency(2))

	var wg sync.WaitGroup
	results := make([]*Response, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := tbl.CalculateSync(context.Background(), Request{Cells: []string{"A1"}})
			if assert.NoError(t, err) {
				results[i] = resp
			}
		}()
	}
	wg.Wait()

	for _, resp := range results {
		require.NotNil(t, resp)
		assert.Equal(t, cell.Number(6), propValue(t, resp.Map["B1"]))
	}
}

// alternating serves a different A2 formula on every read.
type alternating struct {
	calls atomic.Int32
}

func (a *alternating) get(context.Context) (cell.Cells, error) {
	formula := "=A1"
	if a.calls.Add(1)%2 == 0 {
		formula = "=B1"
	}
	return cell.Cells{
		"A1": cell.New(cell.Number(1)),
		"B1": cell.New(cell.Number(2)),
		"A2": cell.New(cell.Text(formula)),
	}, nil
}

func TestConcurrentCalculationsUseOwnSnapshot(t *testing.T) {
	src := &alternating{}
	tbl := New(src.get)

	var wg sync.WaitGroup
	results := make([]*Response, 32)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := tbl.CalculateSync(context.Background(), Request{Cells: []string{"A2"}})
			if assert.NoError(t, err) {
				results[i] = resp
			}
		}()
	}
	wg.Wait()

	for _, resp := range results {
		require.NotNil(t, resp)
		require.Len(t, resp.List, 1)
		a2 := resp.List[0]
		require.Len(t, a2.Refs, 1)

		want := map[cell.Value]cell.Key{cell.Text("=A1"): "A1", cell.Text("=B1"): "B1"}[a2.Data.Value]
		assert.Equal(t, want, a2.Refs[0].Key, "refs match the formula that was evaluated")
		assert.Equal(t, map[cell.Key]cell.Value{"A1": cell.Number(1), "B1": cell.Number(2)}[want], propValue(t, a2.Data))
	}
}

func TestResponseJSON(t *testing.T) {
	s := newSource(map[cell.Key]any{"A1": 1, "A2": "=A1*2"})
	tbl := newTestTable(s, WithIDGenerator(NewFixedGenerator("eid-json")))
	resp := calculate(t, tbl, "A1")

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		OK      bool                     `json:"ok"`
		EID     string                   `json:"eid"`
		Elapsed float64                  `json:"elapsed"`
		List    []map[string]any         `json:"list"`
		Map     map[string]cell.CellData `json:"map"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, decoded.OK)
	assert.Equal(t, "eid-json", decoded.EID)
	assert.GreaterOrEqual(t, decoded.Elapsed, 0.0)
	assert.Len(t, decoded.List, 2)
	assert.Equal(t, cell.Number(2), decoded.Map["A2"].Props[cell.PropValue])
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })

	assert.Len(t, UUIDv7Generator{}.Generate(), 36)
}
