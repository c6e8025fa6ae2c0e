// Package cache provides the memoizing store shared by reference lookups.
//
// Entries are futures: the first caller for a key stores an in-flight
// computation before running it, and concurrent callers for the same key
// wait on that computation instead of repeating it. Nothing is invalidated
// automatically; owners drop stale entries with Delete, DeletePrefix or
// Clear.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// future is a value that may still be computing.
type future struct {
	done chan struct{}
	val  any
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func resolved(v any) *future {
	f := newFuture()
	f.val = v
	close(f.done)
	return f
}

func (f *future) complete(v any, err error) {
	f.val, f.err = v, err
	close(f.done)
}

func (f *future) wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// MemoryCache is a concurrency-safe map of futures.
//
// Thread-safe: all methods may be called concurrently.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*future

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*future)}
}

// Exists reports whether key has an entry, finished or in flight.
func (c *MemoryCache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Get returns the value under key, waiting for an in-flight computation.
// The bool is false when there is no entry.
func (c *MemoryCache) Get(ctx context.Context, key string) (any, bool, error) {
	c.mu.Lock()
	f, ok := c.entries[key]
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)

	v, err := f.wait(ctx)
	return v, true, err
}

// Put stores a finished value, replacing any existing entry.
func (c *MemoryCache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = resolved(value)
}

// PutFunc stores an in-flight computation under key and runs fn in its own
// goroutine. Readers block in Get until fn returns. A failed fn is evicted.
func (c *MemoryCache) PutFunc(key string, fn func() (any, error)) {
	f := newFuture()

	c.mu.Lock()
	c.entries[key] = f
	c.mu.Unlock()

	go func() {
		v, err := run(fn)
		if err != nil {
			c.evict(key, f)
		}
		f.complete(v, err)
	}()
}

// Delete removes key.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed.
func (c *MemoryCache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear removes every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*future)
}

// Len returns the number of entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters and the current size.
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}

// evict removes key only if it still holds f.
func (c *MemoryCache) evict(key string, f *future) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[key] == f {
		delete(c.entries, key)
	}
}

// Memo returns the value under key, computing it with fn exactly once.
//
// The first caller stores a future before computing, so concurrent callers
// for the same key wait for that result. A failed computation is evicted and
// a later call retries. When the computing caller's context ends, waiters
// whose own context is still live take over and compute again.
func Memo[V any](ctx context.Context, c *MemoryCache, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	for {
		c.mu.Lock()
		f, ok := c.entries[key]
		if !ok {
			f = newFuture()
			c.entries[key] = f
		}
		c.mu.Unlock()

		if ok {
			c.hits.Add(1)
			v, err := f.wait(ctx)
			if err != nil {
				if isContextErr(err) && ctx.Err() == nil {
					continue
				}
				return zero, err
			}
			out, isV := v.(V)
			if !isV && v != nil {
				return zero, fmt.Errorf("cache entry %q holds %T", key, v)
			}
			return out, nil
		}

		c.misses.Add(1)
		v, err := run(func() (any, error) { return fn(ctx) })
		if err != nil {
			// Evict before completing so a retrying waiter never sees the failed future.
			c.evict(key, f)
		}
		f.complete(v, err)
		if err != nil {
			return zero, err
		}
		out, _ := v.(V)
		return out, nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// run calls fn, converting a panic into an error so waiters are released.
func run(fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("cache computation panicked: %v", r)
		}
	}()
	return fn()
}

// Key builds a deterministic composite key: Key("incoming", "A1") is
// "incoming:A1".
func Key(op string, args ...any) string {
	if len(args) == 0 {
		return op
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, op)
	for _, a := range args {
		switch v := a.(type) {
		case []string:
			parts = append(parts, strings.Join(v, ","))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, ":")
}
