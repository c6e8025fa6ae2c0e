// Package refs resolves the reference graph of a table.
//
// Outgoing refs (what a formula reads) come from the formula's operands.
// Incoming refs (who reads a cell) come from inverting the outgoing graph
// over every known key; that inversion is the expensive step and is
// memoized in a cache.MemoryCache under these keys:
//
//	out:<key>       parsed operands of one cell
//	graph           inverted graph over all known keys
//	incoming:<key>  transitive dependents of one cell
//
// Cache entries are never invalidated implicitly. Refs with force=true
// recomputes the queried cells and drops every derived entry.
package refs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/cellcalc/internal/cache"
	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/formula"
)

// Cache key prefixes.
const (
	opOut      = "out"
	opGraph    = "graph"
	opIncoming = "incoming"
)

// RefType distinguishes single-cell refs from range membership.
type RefType string

const (
	// RefCell is a direct single-cell operand.
	RefCell RefType = "cell"

	// RefRange is membership in a range operand.
	RefRange RefType = "range"
)

// Ref is one edge of the reference graph.
type Ref struct {
	// Key is the cell at the other end of the edge.
	Key cell.Key `json:"key"`

	// Type is cell or range.
	Type RefType `json:"type"`

	// Range is the range operand for RefRange edges, e.g. "A1:A3".
	Range string `json:"range,omitempty"`

	// Path is the chain of cells the edge was found through. For outgoing
	// refs it is [from, to]; for transitive incoming refs it runs from the
	// dependent down to the queried cell.
	Path []cell.Key `json:"path,omitempty"`
}

// Map is the result of a Refs query.
type Map struct {
	// Keys are the queried keys after range expansion, in request order.
	Keys []cell.Key

	// Out holds each queried key's direct outgoing refs.
	Out map[cell.Key][]Ref

	// In holds direct incoming refs among the queried keys.
	In map[cell.Key][]Ref

	// Errors holds a circular reference error for every queried key on a cycle.
	Errors map[cell.Key]*cell.FuncError
}

// Contains reports whether key was part of the query.
func (m *Map) Contains(key cell.Key) bool {
	_, ok := m.Out[key]
	return ok
}

// GetKeys enumerates every known cell.
type GetKeys func(ctx context.Context) ([]cell.Key, error)

// GetValue returns a cell's raw stored value. A missing cell must return
// cell.Null{} without error.
type GetValue func(ctx context.Context, key cell.Key) (cell.Value, error)

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) {
		t.logger = l
	}
}

// Table is the live reference graph of one table session.
//
// Thread-safe: concurrent queries share the cache and its compute-once
// discipline.
type Table struct {
	getKeys  GetKeys
	getValue GetValue
	cache    *cache.MemoryCache
	logger   *slog.Logger
}

// New creates a reference table bound to the given accessors. A nil cache
// gets a private one.
func New(getKeys GetKeys, getValue GetValue, c *cache.MemoryCache, opts ...Option) *Table {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	t := &Table{
		getKeys:  getKeys,
		getValue: getValue,
		cache:    c,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Cache returns the backing cache.
func (t *Table) Cache() *cache.MemoryCache {
	return t.cache
}

// Refs computes the reference map for rangeKeys. Each entry may be a key
// ("A1") or range syntax ("A1:A3", expanded against known keys).
//
// With force, cached operands of the queried keys are recomputed and the
// derived graph and incoming entries are dropped.
func (t *Table) Refs(ctx context.Context, rangeKeys []string, force bool) (*Map, error) {
	known, err := t.getKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("get keys: %w", err)
	}

	keys, err := expand(rangeKeys, known)
	if err != nil {
		return nil, err
	}

	if force {
		t.invalidate(keys)
	}

	m := &Map{
		Keys:   keys,
		Out:    make(map[cell.Key][]Ref, len(keys)),
		In:     make(map[cell.Key][]Ref),
		Errors: make(map[cell.Key]*cell.FuncError),
	}

	// outgoing graph reachable from the query, for cycle detection
	g := make(graph)
	queue := append([]cell.Key(nil), keys...)
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if _, done := g[k]; done {
			continue
		}

		out, err := t.outgoing(ctx, k, known)
		if err != nil {
			return nil, err
		}
		g[k] = targets(out)
		queue = append(queue, g[k]...)
	}

	queried := make(map[cell.Key]bool, len(keys))
	for _, k := range keys {
		queried[k] = true
	}

	for _, k := range keys {
		out, err := t.outgoing(ctx, k, known)
		if err != nil {
			return nil, err
		}
		m.Out[k] = out

		for _, r := range out {
			if queried[r.Key] {
				m.In[r.Key] = append(m.In[r.Key], Ref{
					Key:   k,
					Type:  r.Type,
					Range: r.Range,
					Path:  []cell.Key{k, r.Key},
				})
			}
		}
	}

	for k, path := range findCycles(keys, g) {
		if queried[k] {
			m.Errors[k] = cell.NewCircularError(k, path)
		}
	}

	t.logger.Debug("refs resolved",
		"keys", len(keys),
		"force", force,
		"reachable", len(g),
		"circular", len(m.Errors))

	return m, nil
}

// Outgoing returns the direct outgoing refs of one cell.
func (t *Table) Outgoing(ctx context.Context, key cell.Key) ([]Ref, error) {
	known, err := t.getKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("get keys: %w", err)
	}
	return t.outgoing(ctx, key, known)
}

// Incoming returns every cell that reads key directly or transitively,
// sorted by key. Each Ref's Path runs from the dependent down to key.
func (t *Table) Incoming(ctx context.Context, key cell.Key) ([]Ref, error) {
	return cache.Memo(ctx, t.cache, cache.Key(opIncoming, key), func(ctx context.Context) ([]Ref, error) {
		inv, err := t.inverted(ctx)
		if err != nil {
			return nil, err
		}
		return transitive(key, inv), nil
	})
}

// Reset drops every cache entry owned by the reference table.
func (t *Table) Reset() {
	t.cache.DeletePrefix(opOut + ":")
	t.cache.DeletePrefix(opIncoming + ":")
	t.cache.Delete(opGraph)
}

func (t *Table) invalidate(keys []cell.Key) {
	for _, k := range keys {
		t.cache.Delete(cache.Key(opOut, k))
	}
	t.cache.Delete(opGraph)
	n := t.cache.DeletePrefix(opIncoming + ":")
	t.logger.Debug("refs cache invalidated", "keys", len(keys), "incoming_dropped", n)
}

// outgoing builds Refs from the cached operands of key.
func (t *Table) outgoing(ctx context.Context, key cell.Key, known []cell.Key) ([]Ref, error) {
	// a formula that fails to parse has no refs; the calculator reports it
	ops, err := cache.Memo(ctx, t.cache, cache.Key(opOut, key), func(ctx context.Context) ([]formula.Operand, error) {
		v, err := t.getValue(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get value %s: %w", key, err)
		}
		text, ok := cell.FormulaText(cell.Resolve(v))
		if !ok {
			return nil, nil
		}
		list, perr := formula.Operands(text)
		if perr != nil {
			t.logger.Debug("formula has no refs", "cell", key, "error", perr)
			return nil, nil
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}

	refs := []Ref{}
	seen := make(map[cell.Key]bool)
	for _, op := range ops {
		if !op.IsRange {
			if seen[op.Key] {
				continue
			}
			seen[op.Key] = true
			refs = append(refs, Ref{Key: op.Key, Type: RefCell, Path: []cell.Key{key, op.Key}})
			continue
		}
		for _, member := range op.Range.Members(known) {
			if seen[member] {
				continue
			}
			seen[member] = true
			refs = append(refs, Ref{
				Key:   member,
				Type:  RefRange,
				Range: op.Range.String(),
				Path:  []cell.Key{key, member},
			})
		}
	}
	return refs, nil
}

// inverted maps each cell to its direct dependents, over all known keys.
func (t *Table) inverted(ctx context.Context) (map[cell.Key][]Ref, error) {
	return cache.Memo(ctx, t.cache, opGraph, func(ctx context.Context) (map[cell.Key][]Ref, error) {
		known, err := t.getKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("get keys: %w", err)
		}

		inv := make(map[cell.Key][]Ref)
		for _, k := range known {
			out, err := t.outgoing(ctx, k, known)
			if err != nil {
				return nil, err
			}
			for _, r := range out {
				inv[r.Key] = append(inv[r.Key], Ref{Key: k, Type: r.Type, Range: r.Range})
			}
		}

		t.logger.Debug("refs graph built", "keys", len(known), "targets", len(inv))
		return inv, nil
	})
}

// transitive walks the inverted graph breadth-first from key.
func transitive(key cell.Key, inv map[cell.Key][]Ref) []Ref {
	visited := map[cell.Key]bool{key: true}
	queue := [][]cell.Key{{key}}
	var out []Ref

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		from := cur[0]

		for _, dep := range inv[from] {
			if visited[dep.Key] {
				continue
			}
			visited[dep.Key] = true

			path := make([]cell.Key, 0, len(cur)+1)
			path = append(path, dep.Key)
			path = append(path, cur...)

			out = append(out, Ref{Key: dep.Key, Type: dep.Type, Range: dep.Range, Path: path})
			queue = append(queue, path)
		}
	}

	slices.SortFunc(out, func(a, b Ref) int {
		return cell.CompareKeys(a.Key, b.Key)
	})
	return out
}

// expand turns request entries into keys, expanding ranges against known.
func expand(rangeKeys []string, known []cell.Key) ([]cell.Key, error) {
	var out []cell.Key
	seen := make(map[cell.Key]bool)
	add := func(k cell.Key) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}

	for _, rk := range rangeKeys {
		if strings.Contains(rk, ":") {
			r, err := cell.ParseRange(rk)
			if err != nil {
				return nil, fmt.Errorf("expand %q: %w", rk, err)
			}
			for _, k := range r.Members(known) {
				add(k)
			}
			continue
		}
		k, err := cell.Normalize(rk)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", rk, err)
		}
		add(k)
	}
	return out, nil
}

func targets(refs []Ref) []cell.Key {
	out := make([]cell.Key, len(refs))
	for i, r := range refs {
		out[i] = r.Key
	}
	return out
}
