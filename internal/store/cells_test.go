package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cellcalc/internal/cell"
)

func TestWriteReadCells(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cells := testCells(map[cell.Key]any{
		"A1":  10,
		"A2":  "=A1+B1",
		"B1":  true,
		"B2":  nil,
		"AA3": "text",
	})
	cells["A2"] = cells["A2"].
		WithPropValue(cell.Number(15)).
		WithError(cell.NewSyntaxError("A2", assert.AnError))

	require.NoError(t, s.WriteCells(ctx, cells))

	got, err := s.ReadCells(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cell.Key{"A1", "A2", "B1", "B2", "AA3"}, got.Keys())

	assert.Equal(t, cell.Number(10), got["A1"].Value)
	assert.Equal(t, cell.Bool(true), got["B1"].Value)
	assert.Equal(t, cell.Null{}, got["B2"].Value)
	assert.Equal(t, cell.Text("text"), got["AA3"].Value)

	a2 := got["A2"]
	assert.Equal(t, cell.Text("=A1+B1"), a2.Value)
	assert.Equal(t, cell.Number(15), a2.Props[cell.PropValue])
	require.NotNil(t, a2.Error)
	assert.Equal(t, cell.ErrSyntax, a2.Error.Type)
	assert.Equal(t, cell.Key("A2"), a2.Error.Cell)
}

func TestWriteCells_Upsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCells(ctx, testCells(map[cell.Key]any{"A1": 1})))
	require.NoError(t, s.WriteCells(ctx, testCells(map[cell.Key]any{"A1": 2, "a2": 3})))

	got, err := s.ReadCells(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, cell.Number(2), got["A1"].Value)
	assert.Equal(t, cell.Number(3), got["A2"].Value, "keys are normalized")

	var seq int64
	require.NoError(t, s.db.QueryRow("SELECT seq FROM cells WHERE key = 'A1'").Scan(&seq))
	assert.Equal(t, int64(2), seq)
}

func TestWriteCells_ResolvesDeferred(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cells := cell.Cells{
		"A1": cell.New(cell.Deferred(func() cell.Value { return cell.Number(42) })),
	}
	require.NoError(t, s.WriteCells(ctx, cells))

	d, ok, err := s.ReadCell(ctx, "A1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cell.Number(42), d.Value)
}

func TestWriteCells_InvalidKey(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteCells(context.Background(), testCells(map[cell.Key]any{"nope": 1}))
	assert.Error(t, err)

	got, err := s.ReadCells(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got, "failed batch is rolled back")
}

func TestWriteCells_Empty(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.WriteCells(context.Background(), nil))
}

func TestReadCell_Missing(t *testing.T) {
	s := createTestStore(t)
	_, ok, err := s.ReadCell(context.Background(), "Z9")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := s.Value(context.Background(), "Z9")
	require.NoError(t, err)
	assert.Equal(t, cell.Null{}, v)
}

func TestKeysAndValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteCells(ctx, testCells(map[cell.Key]any{"B1": "=A1", "A10": 1, "A2": 2})))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cell.Key{"A2", "A10", "B1"}, keys)

	v, err := s.Value(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, cell.Text("=A1"), v)
}

func TestDeleteCell(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteCells(ctx, testCells(map[cell.Key]any{"A1": 1})))

	deleted, err := s.DeleteCell(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteCell(ctx, "A1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCellHashRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	d := cell.New(cell.Text("=1+1")).WithPropValue(cell.Number(2))
	d = d.WithHash(cell.MustHash(d))
	require.NoError(t, s.WriteCells(ctx, cell.Cells{"A1": d}))

	got, _, err := s.ReadCell(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, d.Hash, got.Hash)
	assert.Equal(t, d.Hash, cell.MustHash(got), "stored content hashes the same")
}
