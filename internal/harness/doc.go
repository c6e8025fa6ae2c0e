// Package harness runs calculation scenarios against a table.
//
// A scenario seeds a table with cells, then runs a sequence of steps. Each
// step may edit cells, recalculates the changed keys, and checks the
// response:
//
//	name: chain_edit
//	description: "Editing A1 recalculates its dependents"
//	cells:
//	  A1: 10
//	  A2: "=A1+B1"
//	  B1: 5
//	steps:
//	  - calculate: []
//	    expect:
//	      ok: true
//	      values: {A2: 15}
//	  - set: {A1: 20}
//	    calculate: [A1]
//	    expect:
//	      keys: [A1, A2]
//	      values: {A2: 25}
//	      errors: {A1: ""}
//
// An empty calculate list recalculates every cell. Expected errors map a
// cell to its error type; an empty type asserts the cell has no error.
//
// # Determinism
//
// Calculation ids are "<scenario name>-<step>", so a scenario produces the
// same responses on every run. RunWithGolden compares those responses,
// minus timings, against testdata/golden/<name>.golden. To regenerate:
//
//	go test ./internal/harness -update
package harness
