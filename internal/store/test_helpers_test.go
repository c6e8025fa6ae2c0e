package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/cellcalc/internal/cell"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testCells builds a snapshot from plain Go values.
func testCells(values map[cell.Key]any) cell.Cells {
	out := make(cell.Cells, len(values))
	for k, v := range values {
		out[k] = cell.New(cell.MustFromAny(v))
	}
	return out
}
