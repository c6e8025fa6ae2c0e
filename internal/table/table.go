// Package table orchestrates incremental recalculation of a cell table.
//
// A calculation snapshots the table, expands the requested cells to every
// cell that depends on them, refreshes their references, evaluates the
// closure and returns new copy-on-write snapshots of the affected cells.
//
//	t := table.New(store.ReadCells, table.WithGetFunc(funcs.Builtins().GetFunc))
//	c := t.Calculate(ctx, table.Request{Cells: []string{"A1"}})
//	log.Println("started", c.EID)
//	resp, err := c.Wait(ctx)
package table

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cellcalc/internal/cache"
	"github.com/roach88/cellcalc/internal/calc"
	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/event"
	"github.com/roach88/cellcalc/internal/refs"
)

// GetCells returns a snapshot of every cell in the table.
type GetCells func(ctx context.Context) (cell.Cells, error)

// Option configures a Table.
type Option func(*Table)

// WithGetFunc sets the function registry. Defaults to calc.NopGetFunc.
func WithGetFunc(fn calc.GetFunc) Option {
	return func(t *Table) {
		if fn != nil {
			t.getFunc = fn
		}
	}
}

// WithRefsTable shares a reference table across Table instances. By default
// each Table owns one bound to its latest snapshot.
func WithRefsTable(rt *refs.Table) Option {
	return func(t *Table) {
		t.refs = rt
	}
}

// WithObserver sets the event observer.
func WithObserver(o event.Observer) Option {
	return func(t *Table) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithIDGenerator sets the eid generator. Defaults to UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Table) {
		if g != nil {
			t.ids = g
		}
	}
}

// WithConcurrency bounds how many cells evaluate at once.
func WithConcurrency(n int) Option {
	return func(t *Table) {
		t.concurrency = n
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) {
		t.logger = l
	}
}

// Table is one table session. Its reference cache lives as long as the
// Table and is refreshed for the cells each calculation touches.
//
// Thread-safe: calculations may run concurrently. Each one resolves
// references against its own snapshot; evaluations overlap. A refs.Table
// shared through WithRefsTable is only kept consistent within one Table.
type Table struct {
	getCells    GetCells
	getFunc     calc.GetFunc
	refs        *refs.Table
	observer    event.Observer
	ids         IDGenerator
	concurrency int
	logger      *slog.Logger

	// snapshot is the most recent GetCells result, read by the default
	// reference table.
	snapshot atomic.Pointer[cell.Cells]

	// prepMu serializes snapshot refresh and reference resolution, so the
	// graph a calculation evaluates against is built from its own snapshot.
	// Evaluation itself runs outside the lock.
	prepMu sync.Mutex
}

// New creates a table session reading cells through getCells.
func New(getCells GetCells, opts ...Option) *Table {
	t := &Table{
		getCells: getCells,
		getFunc:  calc.NopGetFunc,
		observer: event.Nop,
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.refs == nil {
		t.refs = refs.New(t.snapshotKeys, t.snapshotValue, cache.NewMemoryCache(),
			refs.WithLogger(t.logger))
	}
	return t
}

// Cache returns the reference cache.
func (t *Table) Cache() *cache.MemoryCache {
	return t.refs.Cache()
}

// RefsTable returns the reference table.
func (t *Table) RefsTable() *refs.Table {
	return t.refs
}

// GetFunc returns the function registry.
func (t *Table) GetFunc() calc.GetFunc {
	return t.getFunc
}

// GetCells returns the cell source.
func (t *Table) GetCells() GetCells {
	return t.getCells
}

// Snapshot returns the latest snapshot, reading one if none is held.
func (t *Table) Snapshot(ctx context.Context) (cell.Cells, error) {
	if s := t.snapshot.Load(); s != nil {
		return *s, nil
	}
	return t.refresh(ctx)
}

func (t *Table) refresh(ctx context.Context) (cell.Cells, error) {
	cells, err := t.getCells(ctx)
	if err != nil {
		return nil, fmt.Errorf("get cells: %w", err)
	}
	if cells == nil {
		cells = cell.Cells{}
	}
	t.snapshot.Store(&cells)
	return cells, nil
}

func (t *Table) snapshotKeys(ctx context.Context) ([]cell.Key, error) {
	cells, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return cells.Keys(), nil
}

func (t *Table) snapshotValue(ctx context.Context, key cell.Key) (cell.Value, error) {
	cells, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	d, ok := cells[key]
	if !ok || d.Value == nil {
		return cell.Null{}, nil
	}
	return d.Value, nil
}

// Calculation is a running calculation. EID is available immediately.
type Calculation struct {
	EID string

	done chan struct{}
	resp *Response
	err  error
}

// Done is closed when the calculation finishes.
func (c *Calculation) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the calculation finishes or ctx is done. Cancelling
// ctx stops waiting, not the calculation.
func (c *Calculation) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Calculate starts a calculation and returns without waiting for it.
// Cancelling ctx cancels the calculation.
func (t *Table) Calculate(ctx context.Context, req Request) *Calculation {
	c := &Calculation{
		EID:  t.ids.Generate(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		c.resp, c.err = t.run(ctx, c.EID, req)
	}()
	return c
}

// CalculateSync runs a calculation to completion.
func (t *Table) CalculateSync(ctx context.Context, req Request) (*Response, error) {
	return t.Calculate(ctx, req).Wait(ctx)
}

func (t *Table) run(ctx context.Context, eid string, req Request) (*Response, error) {
	start := time.Now()
	t.observer.Observe(event.Event{Type: event.TableBegin, EID: eid, Time: start, Count: len(req.Cells)})

	resp, err := t.calculate(ctx, eid, req)
	elapsed := time.Since(start)

	end := event.Event{Type: event.TableEnd, EID: eid, Time: time.Now(), Elapsed: elapsed}
	if err != nil {
		t.observer.Observe(end)
		t.logger.Error("calculation failed", "eid", eid, "error", err, "elapsed", elapsed)
		return nil, err
	}

	resp.Elapsed = elapsed
	end.OK = resp.OK
	end.Count = len(resp.List)
	end.Failed = resp.Failed()
	t.observer.Observe(end)

	t.logger.Info("calculation complete",
		"eid", eid,
		"ok", resp.OK,
		"cells", len(resp.List),
		"failed", end.Failed,
		"elapsed", elapsed)
	return resp, nil
}

func (t *Table) calculate(ctx context.Context, eid string, req Request) (*Response, error) {
	cells, closure, m, err := t.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	getCell := func(_ context.Context, k cell.Key) (cell.CellData, bool, error) {
		d, ok := cells[k]
		return d, ok, nil
	}
	c := calc.New(getCell,
		calc.WithGetFunc(t.getFunc),
		calc.WithObserver(t.observer),
		calc.WithConcurrency(t.concurrency),
		calc.WithLogger(t.logger))

	res, err := c.Many(ctx, calc.Batch{EID: eid, Cells: closure, Refs: m})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		OK:   res.OK,
		EID:  eid,
		List: make([]CellResult, 0, len(res.List)),
		Map:  make(cell.Cells, len(res.List)),
	}
	for _, r := range res.List {
		data, err := merge(cells[r.Key], r)
		if err != nil {
			return nil, fmt.Errorf("assemble %s: %w", r.Key, err)
		}
		resp.List = append(resp.List, CellResult{
			Key:     r.Key,
			OK:      r.OK,
			Data:    data,
			Error:   r.Error,
			Refs:    r.Refs,
			Elapsed: r.Elapsed,
			Seq:     r.Seq,
		})
		resp.Map[r.Key] = data
	}
	return resp, nil
}

// prepare snapshots the table and resolves the closure and its references
// against that snapshot.
func (t *Table) prepare(ctx context.Context, req Request) (cell.Cells, []cell.Key, *refs.Map, error) {
	t.prepMu.Lock()
	defer t.prepMu.Unlock()

	cells, err := t.refresh(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	query := req.Cells
	if len(query) == 0 {
		for _, k := range cells.Keys() {
			query = append(query, string(k))
		}
	}

	// refresh the targets' own refs so edited formulas are seen
	targets, err := t.refs.Refs(ctx, query, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("refs for targets: %w", err)
	}

	closure, err := t.closure(ctx, targets.Keys)
	if err != nil {
		return nil, nil, nil, err
	}

	m, err := t.refs.Refs(ctx, keyStrings(closure), true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("refs for closure: %w", err)
	}
	return cells, closure, m, nil
}

// closure returns targets followed by every cell that depends on them,
// the dependents in key order.
func (t *Table) closure(ctx context.Context, targets []cell.Key) ([]cell.Key, error) {
	var (
		mu   sync.Mutex
		deps = make(map[cell.Key]bool)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, k := range targets {
		g.Go(func() error {
			in, err := t.refs.Incoming(gctx, k)
			if err != nil {
				return fmt.Errorf("incoming %s: %w", k, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range in {
				deps[r.Key] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := append([]cell.Key(nil), targets...)
	for _, k := range targets {
		delete(deps, k)
	}
	extra := make([]cell.Key, 0, len(deps))
	for k := range deps {
		extra = append(extra, k)
	}
	slices.SortFunc(extra, cell.CompareKeys)
	return append(out, extra...), nil
}

// merge builds the new snapshot of a cell from its previous data and its
// evaluation result. Unrelated props are preserved.
func merge(prev cell.CellData, r calc.CellResult) (cell.CellData, error) {
	if prev.Value == nil {
		prev.Value = cell.Null{}
	}

	var data cell.CellData
	switch {
	case !r.Formula:
		data = prev.Resolved()
		if prev.Error != nil {
			data = data.WithError(nil)
		}
	case r.OK:
		data = prev.Resolved().WithPropValue(r.Value).WithError(nil)
	default:
		// the last calculated value stays alongside the error
		data = prev.Resolved().WithError(r.Error)
	}

	hash, err := cell.Hash(data)
	if err != nil {
		return cell.CellData{}, err
	}
	return data.WithHash(hash), nil
}

func keyStrings(keys []cell.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
