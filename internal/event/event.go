// Package event carries progress notifications out of a calculation.
//
// Observers are optional. The calculator and table publish events and never
// wait on anyone consuming them; correctness does not depend on a
// subscriber existing.
package event

import (
	"time"

	"github.com/roach88/cellcalc/internal/cell"
)

// Type distinguishes event kinds.
type Type string

const (
	// TableBegin is published when a calculation starts, with the target count.
	TableBegin Type = "table/begin"

	// TableEnd is published when a calculation finishes.
	TableEnd Type = "table/end"

	// CalcBegin is published before a batch is evaluated.
	CalcBegin Type = "calc/begin"

	// CalcCell is published after each cell is evaluated.
	CalcCell Type = "calc/cell"

	// CalcEnd is published after the batch is evaluated.
	CalcEnd Type = "calc/end"
)

// Event is one progress notification.
type Event struct {
	Type Type
	EID  string
	Time time.Time

	// Key is the evaluated cell for CalcCell.
	Key cell.Key

	// OK reports success for CalcCell, CalcEnd and TableEnd.
	OK bool

	// Count is the number of cells involved.
	Count int

	// Failed is the number of failed cells for CalcEnd and TableEnd.
	Failed int

	// Error is the cell error for a failed CalcCell.
	Error *cell.FuncError

	// Elapsed is the wall time for CalcCell, CalcEnd and TableEnd.
	Elapsed time.Duration
}

// Observer receives events. Implementations must not block for long;
// synchronous observers run on the publisher's goroutine.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Nop discards every event.
var Nop Observer = ObserverFunc(func(Event) {})

// Multi fans one event out to several observers in order.
func Multi(observers ...Observer) Observer {
	var list []Observer
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(e Event) {
		for _, o := range list {
			o.Observe(e)
		}
	})
}
