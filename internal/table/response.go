package table

import (
	"encoding/json"
	"time"

	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/refs"
)

// Request selects the cells to recalculate.
type Request struct {
	// Cells are changed cells, as keys or ranges ("A1", "B1:B3"). Empty
	// means every known cell.
	Cells []string
}

// CellResult is the evaluation detail for one cell of the closure.
type CellResult struct {
	Key cell.Key `json:"key"`
	OK  bool     `json:"ok"`

	// Data is the new snapshot of the cell, also found in Response.Map.
	Data cell.CellData `json:"data"`

	Error *cell.FuncError `json:"error,omitempty"`
	Refs  []refs.Ref      `json:"refs,omitempty"`

	Elapsed time.Duration `json:"-"`

	// Seq is the completion order within the calculation.
	Seq int `json:"-"`
}

// Response is the outcome of one calculation.
type Response struct {
	// OK is false when reading cell values failed mid-evaluation. Formula
	// errors leave OK true; they are reported per cell.
	OK bool

	EID     string
	Elapsed time.Duration

	// List holds every cell of the closure: the requested cells first, then
	// their dependents in key order.
	List []CellResult

	// Map is List keyed by cell.
	Map cell.Cells
}

// Failed counts cells with errors.
func (r *Response) Failed() int {
	n := 0
	for _, cr := range r.List {
		if !cr.OK {
			n++
		}
	}
	return n
}

// Keys returns the keys of Map in sheet order.
func (r *Response) Keys() []cell.Key {
	return r.Map.Keys()
}

type responseJSON struct {
	OK      bool         `json:"ok"`
	EID     string       `json:"eid"`
	Elapsed float64      `json:"elapsed"`
	List    []CellResult `json:"list"`
	Map     cell.Cells   `json:"map"`
}

// MarshalJSON encodes the response with elapsed time in milliseconds.
func (r *Response) MarshalJSON() ([]byte, error) {
	list := r.List
	if list == nil {
		list = []CellResult{}
	}
	m := r.Map
	if m == nil {
		m = cell.Cells{}
	}
	return json.Marshal(responseJSON{
		OK:      r.OK,
		EID:     r.EID,
		Elapsed: float64(r.Elapsed.Microseconds()) / 1000,
		List:    list,
		Map:     m,
	})
}
