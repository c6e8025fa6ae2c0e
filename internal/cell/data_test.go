package cell

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellDataCopyOnWrite(t *testing.T) {
	orig := CellData{
		Value: Text("=A1+1"),
		Props: Props{"format": Text("0.00")},
	}

	updated := orig.WithPropValue(Number(2))

	_, hasValue := orig.Props.Value()
	assert.False(t, hasValue, "original props untouched")
	v, ok := updated.Props.Value()
	require.True(t, ok)
	assert.Equal(t, Number(2), v)
	assert.Equal(t, Text("0.00"), updated.Props["format"], "other props preserved")
}

func TestWithPropValueResolvesDeferred(t *testing.T) {
	d := New(Text("=1")).WithPropValue(Deferred(func() Value { return Number(5) }))
	assert.Equal(t, Number(5), d.Props[PropValue])
}

func TestWithoutPropValue(t *testing.T) {
	d := New(Text("=1")).WithPropValue(Number(1)).WithoutPropValue()
	assert.Nil(t, d.Props)
}

func TestWithErrorExplicitClear(t *testing.T) {
	d := New(Number(1))
	assert.False(t, d.ErrorSet())

	failed := d.WithError(NewInvokeError("A1", assert.AnError))
	assert.True(t, failed.ErrorSet())
	require.NotNil(t, failed.Error)

	cleared := failed.WithError(nil)
	assert.True(t, cleared.ErrorSet(), "clear is recorded")
	assert.Nil(t, cleared.Error)
	assert.NotNil(t, failed.Error, "original keeps its error")
}

func TestDisplayValue(t *testing.T) {
	assert.Equal(t, Number(3), New(Number(3)).DisplayValue())
	assert.Equal(t, Null{}, New(Text("=A1")).DisplayValue(), "uncalculated formula reads as null")
	assert.Equal(t, Number(7), New(Text("=A1")).WithPropValue(Number(7)).DisplayValue())
	assert.Equal(t, Number(4), New(Deferred(func() Value { return Number(4) })).DisplayValue())
}

func TestCellDataJSON(t *testing.T) {
	d := New(Text("=A1+B1")).
		WithPropValue(Number(15)).
		WithError(nil).
		WithHash("abc")

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"value":"=A1+B1","props":{"value":15},"error":null,"hash":"abc"}`, string(data))

	var back CellData
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.ErrorSet(), "explicit null survives round trip")
	assert.Nil(t, back.Error)
	assert.Equal(t, Number(15), back.Props[PropValue])
	assert.Equal(t, "abc", back.Hash)
}

func TestCellDataJSONWithError(t *testing.T) {
	d := New(Text("=A1")).WithError(NewCircularError("A1", []Key{"A1", "A1"}))

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var back CellData
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.Error)
	assert.Equal(t, ErrCircular, back.Error.Type)
	assert.Equal(t, []Key{"A1", "A1"}, back.Error.Path)
}

func TestCellDataJSONOmitsUnsetError(t *testing.T) {
	data, err := json.Marshal(New(Number(10)))
	require.NoError(t, err)
	assert.Equal(t, `{"value":10}`, string(data))

	var back CellData
	require.NoError(t, json.Unmarshal(data, &back))
	assert.False(t, back.ErrorSet())
}

func TestCellsKeysAndClone(t *testing.T) {
	cells := Cells{
		"B1":  New(Number(1)),
		"A10": New(Number(2)),
		"A2":  New(Text("=A10")).WithPropValue(Number(2)),
	}
	assert.Equal(t, []Key{"A2", "A10", "B1"}, cells.Keys())

	clone := cells.Clone()
	clone["A2"].Props[PropValue] = Number(99)
	assert.Equal(t, Number(2), cells["A2"].Props[PropValue])
}

func TestFuncErrorHelpers(t *testing.T) {
	circ := NewCircularError("A14", []Key{"A14", "A15", "A14"})
	assert.True(t, IsCircular(circ))
	assert.False(t, IsUnresolved(circ))
	assert.Contains(t, circ.Error(), "A14 -> A15 -> A14")

	unres := NewUnresolvedError("A16", "A15", "cell has error")
	assert.True(t, IsUnresolved(unres))
	assert.Equal(t, []Key{"A16", "A15"}, unres.Path)

	nf := NewNotFoundError("A1", "sys", "NOPE")
	assert.True(t, IsNotFound(nf))
	assert.Contains(t, nf.Message, "sys.NOPE")

	fe, ok := AsFuncError(error(nf))
	require.True(t, ok)
	assert.Equal(t, ErrNotFound, fe.Type)
}
