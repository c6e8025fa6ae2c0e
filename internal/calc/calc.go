// Package calc evaluates batches of formula cells.
//
// Every cell in a batch runs in its own goroutine. A cell whose operands
// include other cells of the same batch waits for them through per-cell
// futures, so independent cells evaluate concurrently and dependent cells
// see fresh values. Per-cell failures are recorded on the cell and never
// abort the batch.
package calc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/event"
	"github.com/roach88/cellcalc/internal/formula"
	"github.com/roach88/cellcalc/internal/refs"
)

// Invocation is a resolved function call.
type Invocation struct {
	EID       string
	Cell      cell.Key
	Namespace string
	Name      string
	Args      []cell.Value
}

// Invoker implements one function.
type Invoker func(ctx context.Context, inv Invocation) (cell.Value, error)

// GetFunc resolves a function. A nil Invoker with a nil error means the
// function does not exist.
type GetFunc func(ctx context.Context, namespace, name string) (Invoker, error)

// GetCell returns the stored snapshot of a cell. The bool is false for a
// missing cell.
type GetCell func(ctx context.Context, key cell.Key) (cell.CellData, bool, error)

// NopGetFunc resolves every function to an invoker returning Null.
func NopGetFunc(context.Context, string, string) (Invoker, error) {
	return func(context.Context, Invocation) (cell.Value, error) {
		return cell.Null{}, nil
	}, nil
}

// Option configures a Calc.
type Option func(*Calc)

// WithGetFunc sets the function registry. Defaults to NopGetFunc.
func WithGetFunc(fn GetFunc) Option {
	return func(c *Calc) {
		if fn != nil {
			c.getFunc = fn
		}
	}
}

// WithObserver sets the event observer. Observe is called on evaluation
// goroutines; wrap slow observers in an event.Bus.
func WithObserver(o event.Observer) Option {
	return func(c *Calc) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithConcurrency bounds how many cells evaluate at once. Cells waiting on
// precedents do not count. Zero or negative means unbounded.
func WithConcurrency(n int) Option {
	return func(c *Calc) {
		c.concurrency = n
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Calc) {
		c.logger = l
	}
}

// Calc evaluates cells against a snapshot.
//
// Thread-safe: Many may be called concurrently.
type Calc struct {
	getCell     GetCell
	getFunc     GetFunc
	observer    event.Observer
	concurrency int
	logger      *slog.Logger
}

// New creates a calculator reading stored cells through getCell.
func New(getCell GetCell, opts ...Option) *Calc {
	c := &Calc{
		getCell:  getCell,
		getFunc:  NopGetFunc,
		observer: event.Nop,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetFunc returns the configured function registry.
func (c *Calc) GetFunc() GetFunc {
	return c.getFunc
}

// Batch is a set of cells to evaluate together.
type Batch struct {
	EID   string
	Cells []cell.Key

	// Refs is the reference map for Cells. Circular errors in Refs.Errors are
	// applied without evaluation; Refs.Out decides which cells wait on which.
	Refs *refs.Map
}

// CellResult is the outcome for one cell.
type CellResult struct {
	Key cell.Key `json:"key"`
	OK  bool     `json:"ok"`

	// Formula reports whether the cell was evaluated (false for literals).
	Formula bool `json:"formula"`

	// Value is the calculated value of a formula or the literal value.
	Value cell.Value `json:"-"`

	Error   *cell.FuncError `json:"error,omitempty"`
	Refs    []refs.Ref      `json:"refs,omitempty"`
	Elapsed time.Duration   `json:"-"`

	// Seq is the completion order within the batch.
	Seq int `json:"-"`

	// fetchFailed marks a storage failure, as opposed to a formula error.
	fetchFailed bool
}

// Result is the outcome of a batch. List follows the order of Batch.Cells,
// with duplicates removed.
type Result struct {
	// OK is false only if reading stored cells failed.
	OK   bool
	List []CellResult
}

// Failed counts cells with errors.
func (r *Result) Failed() int {
	n := 0
	for _, cr := range r.List {
		if !cr.OK {
			n++
		}
	}
	return n
}

// future is the pending outcome of one cell in the batch.
type future struct {
	done  chan struct{}
	value cell.Value
	err   *cell.FuncError
}

// Many evaluates a batch. It returns an error only when ctx is cancelled;
// every other failure is recorded per cell.
func (c *Calc) Many(ctx context.Context, b Batch) (*Result, error) {
	start := time.Now()
	refMap := b.Refs
	if refMap == nil {
		refMap = &refs.Map{}
	}

	cells := make([]cell.Key, 0, len(b.Cells))
	futures := make(map[cell.Key]*future, len(b.Cells))
	for _, k := range b.Cells {
		if _, dup := futures[k]; !dup {
			futures[k] = &future{done: make(chan struct{})}
			cells = append(cells, k)
		}
	}

	c.observer.Observe(event.Event{Type: event.CalcBegin, EID: b.EID, Time: start, Count: len(cells)})

	var sem chan struct{}
	if c.concurrency > 0 {
		sem = make(chan struct{}, c.concurrency)
	}

	results := make([]CellResult, len(cells))
	var (
		seqMu sync.Mutex
		seq   int
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, key := range cells {
		f := futures[key]
		g.Go(func() error {
			cellStart := time.Now()
			r, err := c.evalCell(gctx, b.EID, key, refMap, futures, sem)
			if err != nil {
				return err
			}
			r.Elapsed = time.Since(cellStart)

			seqMu.Lock()
			r.Seq = seq
			seq++
			seqMu.Unlock()

			results[i] = r
			f.value, f.err = r.Value, r.Error
			close(f.done)

			c.observer.Observe(event.Event{
				Type:    event.CalcCell,
				EID:     b.EID,
				Time:    time.Now(),
				Key:     key,
				OK:      r.OK,
				Error:   r.Error,
				Elapsed: r.Elapsed,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("calculate %s: %w", b.EID, err)
	}

	res := &Result{OK: true, List: results}
	for _, r := range results {
		if r.fetchFailed {
			res.OK = false
		}
	}

	elapsed := time.Since(start)
	c.observer.Observe(event.Event{
		Type:    event.CalcEnd,
		EID:     b.EID,
		Time:    time.Now(),
		OK:      res.OK,
		Count:   len(results),
		Failed:  res.Failed(),
		Elapsed: elapsed,
	})
	c.logger.Debug("batch evaluated",
		"eid", b.EID,
		"cells", len(results),
		"failed", res.Failed(),
		"elapsed", elapsed)

	return res, nil
}

// evalCell evaluates one cell. The returned error is reserved for context
// cancellation.
func (c *Calc) evalCell(ctx context.Context, eid string, key cell.Key, m *refs.Map, futures map[cell.Key]*future, sem chan struct{}) (CellResult, error) {
	r := CellResult{Key: key, Refs: m.Out[key]}

	fail := func(fe *cell.FuncError) (CellResult, error) {
		r.OK = false
		r.Error = fe
		r.Value = nil
		return r, nil
	}

	if circ, ok := m.Errors[key]; ok {
		r.Formula = true
		return fail(circ)
	}

	data, _, err := c.getCell(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		r.fetchFailed = true
		return fail(cell.NewInvokeError(key, fmt.Errorf("read cell: %w", err)))
	}

	raw := cell.Resolve(data.Value)
	text, isFormula := cell.FormulaText(raw)
	if !isFormula {
		r.OK = true
		r.Value = raw
		return r, nil
	}
	r.Formula = true

	f, err := formula.Parse(text)
	if err != nil {
		return fail(cell.NewSyntaxError(key, err))
	}

	// wait for in-batch precedents
	for _, ref := range m.Out[key] {
		pf, ok := futures[ref.Key]
		if !ok || ref.Key == key {
			continue
		}
		select {
		case <-pf.done:
		case <-ctx.Done():
			return r, ctx.Err()
		}
	}

	if sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return r, ctx.Err()
		}
	}

	env := &env{
		calc:    c,
		eid:     eid,
		key:     key,
		refs:    m.Out[key],
		futures: futures,
	}
	if err := env.prefetch(ctx, f.Operands()); err != nil {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		r.fetchFailed = true
		return fail(cell.NewInvokeError(key, err))
	}

	v, err := f.Eval(ctx, env)
	if err != nil {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		if fe, ok := cell.AsFuncError(err); ok {
			fe = fe.Clone()
			if fe.Cell == "" {
				fe.Cell = key
			}
			return fail(fe)
		}
		return fail(cell.NewInvokeError(key, err))
	}

	r.OK = true
	r.Value = v
	return r, nil
}

// operandValue is a prefetched operand.
type operandValue struct {
	value cell.Value
	err   *cell.FuncError
}

// env resolves operands of one cell for formula.Eval.
type env struct {
	calc    *Calc
	eid     string
	key     cell.Key
	refs    []refs.Ref
	futures map[cell.Key]*future

	values map[string]operandValue
}

// prefetch resolves every operand up front so that one failing operand does
// not stop the others from being read. Only storage failures are returned.
func (e *env) prefetch(ctx context.Context, ops []formula.Operand) error {
	e.values = make(map[string]operandValue, len(ops))
	for _, op := range ops {
		var (
			ov  operandValue
			err error
		)
		if op.IsRange {
			ov, err = e.readRange(ctx, op)
		} else {
			ov, err = e.readCell(ctx, op.Key, false)
		}
		if err != nil {
			return err
		}
		e.values[op.String()] = ov
	}
	return nil
}

// readCell reads one operand. Empty cells are unresolved unless inRange, in
// which case the zero operandValue tells the caller to skip the member.
func (e *env) readCell(ctx context.Context, k cell.Key, inRange bool) (operandValue, error) {
	if k == e.key {
		return operandValue{err: cell.NewUnresolvedError(e.key, k, "cell reads itself")}, nil
	}

	if f, ok := e.futures[k]; ok && e.waited(k) {
		<-f.done
		if f.err != nil {
			return operandValue{err: cell.NewUnresolvedError(e.key, k, "cell has error: "+f.err.Message)}, nil
		}
		if cell.IsEmpty(f.value) {
			return e.empty(k, inRange), nil
		}
		return operandValue{value: f.value}, nil
	}

	data, ok, err := e.calc.getCell(ctx, k)
	if err != nil {
		return operandValue{}, fmt.Errorf("read operand %s: %w", k, err)
	}
	if !ok {
		return e.empty(k, inRange), nil
	}
	if data.Error != nil {
		return operandValue{err: cell.NewUnresolvedError(e.key, k, "cell has error: "+data.Error.Message)}, nil
	}
	v := data.DisplayValue()
	if cell.IsEmpty(v) {
		return e.empty(k, inRange), nil
	}
	return operandValue{value: v}, nil
}

func (e *env) empty(k cell.Key, inRange bool) operandValue {
	if inRange {
		return operandValue{}
	}
	return operandValue{err: cell.NewUnresolvedError(e.key, k, "cell is empty")}
}

// waited reports whether k is an in-batch precedent this cell waited on.
func (e *env) waited(k cell.Key) bool {
	for _, r := range e.refs {
		if r.Key == k {
			return true
		}
	}
	return false
}

func (e *env) readRange(ctx context.Context, op formula.Operand) (operandValue, error) {
	rng := op.Range.String()
	var list cell.List
	for _, r := range e.refs {
		if r.Type != refs.RefRange || r.Range != rng {
			continue
		}
		ov, err := e.readCell(ctx, r.Key, true)
		if err != nil {
			return operandValue{}, err
		}
		if ov.err != nil {
			return ov, nil
		}
		if ov.value == nil {
			continue
		}
		list = append(list, ov.value)
	}
	if list == nil {
		list = cell.List{}
	}
	return operandValue{value: list}, nil
}

// Cell implements formula.Env.
func (e *env) Cell(_ context.Context, op formula.Operand) (cell.Value, error) {
	ov, ok := e.values[op.String()]
	if !ok {
		return nil, cell.NewUnresolvedError(e.key, op.Key, "operand not resolved")
	}
	if ov.err != nil {
		return nil, ov.err
	}
	return ov.value, nil
}

// Range implements formula.Env.
func (e *env) Range(_ context.Context, op formula.Operand) (cell.List, error) {
	ov, ok := e.values[op.String()]
	if !ok {
		return cell.List{}, nil
	}
	if ov.err != nil {
		return nil, ov.err
	}
	list, _ := ov.value.(cell.List)
	return list, nil
}

// Call implements formula.Env.
func (e *env) Call(ctx context.Context, namespace, name string, args []cell.Value) (cell.Value, error) {
	inv, err := e.calc.getFunc(ctx, namespace, name)
	if err != nil {
		return nil, cell.NewInvokeError(e.key, fmt.Errorf("resolve %s.%s: %w", namespace, name, err))
	}
	if inv == nil {
		return nil, cell.NewNotFoundError(e.key, namespace, name)
	}

	v, err := e.calc.invoke(ctx, inv, Invocation{
		EID:       e.eid,
		Cell:      e.key,
		Namespace: namespace,
		Name:      name,
		Args:      args,
	})
	if err != nil {
		if _, ok := cell.AsFuncError(err); ok {
			return nil, err
		}
		return nil, cell.NewInvokeError(e.key, fmt.Errorf("%s.%s: %w", namespace, name, err))
	}
	return cell.Resolve(v), nil
}

// invoke calls inv, converting a panic into an error.
func (c *Calc) invoke(ctx context.Context, inv Invoker, in Invocation) (v cell.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("invoker panicked",
				"eid", in.EID,
				"cell", in.Cell,
				"function", in.Namespace+"."+in.Name,
				"panic", r,
				"stack", string(debug.Stack()))
			v, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return inv(ctx, in)
}
