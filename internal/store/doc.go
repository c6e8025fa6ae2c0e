// Package store provides SQLite-backed storage for table cells and the
// calculation log.
//
// The store holds one table:
//   - Cells: the latest snapshot of every cell (raw value, props, error, hash)
//   - Calculations: one row per applied calculation, keyed by eid
//   - Calculation cells: the per-cell outcome of each logged calculation
//
// # Ordering
//
// Every write is stamped with a logical seq taken inside its transaction.
// Queries order by seq, then by key or eid with COLLATE BINARY, so results
// never depend on wall time.
//
// # Encoding
//
// Values and props are stored as canonical JSON (see cell.MarshalCanonical).
// Deferred values are resolved before they are written. An error column is
// NULL when the cell has no error; an explicit clear is not persisted.
//
// Open runs in WAL mode with a five second busy timeout and upgrades older
// databases through the user_version migrations. A calculation whose eid is
// already logged is not applied again.
//
// Store methods match the table and reference accessor signatures, so a
// Store can back a table.Table directly:
//
//	t := table.New(s.ReadCells)
package store
