// Package funcs is a namespaced function registry for the calculator.
//
// A Registry's GetFunc method satisfies calc.GetFunc. Builtins returns a
// registry preloaded with a small "sys" set used by the CLI and tests.
package funcs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/cellcalc/internal/calc"
	"github.com/roach88/cellcalc/internal/formula"
)

// Registry maps namespace and name to an Invoker.
//
// Thread-safe: registration and lookup may happen concurrently.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]calc.Invoker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]calc.Invoker)}
}

func qualified(namespace, name string) string {
	if namespace == "" {
		namespace = formula.DefaultNamespace
	}
	return namespace + "." + strings.ToUpper(name)
}

// Register adds or replaces a function. Names are case-insensitive.
func (r *Registry) Register(namespace, name string, fn calc.Invoker) error {
	if name == "" {
		return fmt.Errorf("register: empty function name")
	}
	if fn == nil {
		return fmt.Errorf("register %s: nil invoker", qualified(namespace, name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[qualified(namespace, name)] = fn
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(namespace, name string, fn calc.Invoker) {
	if err := r.Register(namespace, name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function, if registered.
func (r *Registry) Lookup(namespace, name string) (calc.Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[qualified(namespace, name)]
	return fn, ok
}

// GetFunc implements calc.GetFunc. Unknown functions return nil, nil.
func (r *Registry) GetFunc(_ context.Context, namespace, name string) (calc.Invoker, error) {
	fn, _ := r.Lookup(namespace, name)
	return fn, nil
}

// Names lists registered functions as "namespace.NAME", sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
