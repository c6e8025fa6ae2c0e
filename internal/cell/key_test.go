package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{"simple", "A1", Address{1, 1}, false},
		{"lowercase", "b7", Address{2, 7}, false},
		{"two letters", "AA10", Address{27, 10}, false},
		{"absolute markers", "$C$3", Address{3, 3}, false},
		{"padded", "  D4 ", Address{4, 4}, false},
		{"empty", "", Address{}, true},
		{"no row", "AB", Address{}, true},
		{"no column", "12", Address{}, true},
		{"zero row", "A0", Address{}, true},
		{"trailing junk", "A1x", Address{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumnNameRoundTrip(t *testing.T) {
	for _, col := range []int{1, 2, 26, 27, 52, 53, 702, 703, 16384} {
		name := ColumnName(col)
		idx, err := ColumnIndex(name)
		require.NoError(t, err)
		assert.Equal(t, col, idx, "column %s", name)
	}

	assert.Equal(t, "Z", ColumnName(26))
	assert.Equal(t, "AA", ColumnName(27))
	assert.Equal(t, "ZZ", ColumnName(702))
	assert.Equal(t, "", ColumnName(0))
}

func TestNormalize(t *testing.T) {
	k, err := Normalize("$a$12")
	require.NoError(t, err)
	assert.Equal(t, Key("A12"), k)

	_, err = Normalize("nope")
	assert.Error(t, err)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Range
	}{
		{"block", "A1:B3", Range{1, 1, 2, 3}},
		{"reversed", "B3:A1", Range{1, 1, 2, 3}},
		{"single key", "C4", Range{3, 4, 3, 4}},
		{"columns", "A:B", Range{1, 0, 2, 0}},
		{"rows", "2:4", Range{0, 2, 0, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "A1:", "A1:B", "A1:B2:C3", "?:?"} {
		_, err := ParseRange(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestRangeContainsAndKeys(t *testing.T) {
	r, err := ParseRange("A1:B2")
	require.NoError(t, err)

	assert.True(t, r.Contains("A1"))
	assert.True(t, r.Contains("B2"))
	assert.False(t, r.Contains("C1"))
	assert.False(t, r.Contains("A3"))
	assert.False(t, r.Contains("garbage"))
	assert.Equal(t, []Key{"A1", "B1", "A2", "B2"}, r.Keys())
	assert.Equal(t, "A1:B2", r.String())

	cols, err := ParseRange("B:B")
	require.NoError(t, err)
	assert.False(t, cols.Bounded())
	assert.Nil(t, cols.Keys())
	assert.True(t, cols.Contains("B900"))
	assert.Equal(t, []Key{"B1", "B10"}, cols.Members([]Key{"B10", "A1", "B1", "C1"}))
	assert.Equal(t, "B:B", cols.String())

	rows, err := ParseRange("3:4")
	require.NoError(t, err)
	assert.True(t, rows.Contains("ZZ3"))
	assert.False(t, rows.Contains("A5"))
	assert.Equal(t, "3:4", rows.String())
}

func TestIsRange(t *testing.T) {
	assert.True(t, IsRange("A1:A3"))
	assert.False(t, IsRange("A1"))
	assert.False(t, IsRange("x:y:z"))
}

func TestSortKeys(t *testing.T) {
	keys := []Key{"B1", "A10", "A2", "bad", "AA1", "A1"}
	SortKeys(keys)
	assert.Equal(t, []Key{"A1", "A2", "A10", "B1", "AA1", "bad"}, keys)
}
