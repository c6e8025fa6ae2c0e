// Package cell provides the data model shared by every layer of the
// recalculation engine.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import cell; cell imports nothing internal.
//
// Key design constraints:
//   - CellData is a value type. Every mutation helper returns a copy, so a
//     snapshot handed to a caller is never changed afterwards.
//   - Deferred values (zero-argument callables used by fixtures) are resolved
//     at the boundary where CellData is stored or returned. Resolved values
//     never contain Deferred.
//   - All JSON tags use lowerCamel to match the cell wire shape
//     ({value, props: {value}, error, hash}).
//   - Content hashes use RFC 8785 canonical JSON with NFC-normalized strings.
package cell
