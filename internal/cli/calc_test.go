package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calcJSON is the JSON shape of a calc response.
type calcJSON struct {
	Status string `json:"status"`
	Data   struct {
		OK   bool   `json:"ok"`
		EID  string `json:"eid"`
		List []struct {
			Key string `json:"key"`
			OK  bool   `json:"ok"`
		} `json:"list"`
		Map map[string]struct {
			Value any            `json:"value"`
			Props map[string]any `json:"props"`
			Hash  string         `json:"hash"`
		} `json:"map"`
	} `json:"data"`
}

func decodeCalc(t *testing.T, out string) calcJSON {
	t.Helper()
	var got calcJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	return got
}

// ============================================================================
// Table files
// ============================================================================

func TestCalc_Text(t *testing.T) {
	out, _, err := execute(t, "calc", "testdata/budget.yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "ok (4 cells, 0 failed")
	assert.Regexp(t, `A2\s+15\n`, out)
	assert.Regexp(t, `B2\s+30\n`, out)
}

func TestCalc_JSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "calc", "testdata/budget.yaml", "--cells", "B1")
	require.NoError(t, err)

	got := decodeCalc(t, out)
	assert.Equal(t, "ok", got.Status)
	assert.True(t, got.Data.OK)
	assert.Len(t, got.Data.EID, 36)

	keys := make([]string, len(got.Data.List))
	for i, cr := range got.Data.List {
		keys[i] = cr.Key
	}
	assert.Equal(t, []string{"B1", "A2", "B2"}, keys, "changed cell first, then dependents")

	assert.Equal(t, float64(15), got.Data.Map["A2"].Props["value"])
	assert.Equal(t, float64(30), got.Data.Map["B2"].Props["value"])
	assert.Equal(t, "0.0", got.Data.Map["B1"].Props["format"], "unrelated props are kept")
	assert.NotEmpty(t, got.Data.Map["B2"].Hash)
}

func TestCalc_FailedCellsExitOne(t *testing.T) {
	out, _, err := execute(t, "calc", "testdata/cycle.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "2 cell(s) failed")
	assert.Contains(t, out, "error REF/circular")
}

func TestCalc_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"no table", []string{"calc"}, "a table file or --db is required"},
		{"missing file", []string{"calc", "testdata/missing.yaml"}, "failed to load table"},
		{"bad cell", []string{"calc", "testdata/budget.yaml", "--cells", "1A"}, "calculation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCalc_JSONError(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "calc", "testdata/missing.yaml")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, CodeLoad, resp.Error.Code)
}

func TestCalc_Metrics(t *testing.T) {
	_, stderr, err := execute(t, "calc", "testdata/budget.yaml", "--metrics")
	require.NoError(t, err)

	assert.Contains(t, stderr, `cellcalc_table_calculations_total{result="ok"} 1`)
	assert.Contains(t, stderr, "cellcalc_table_calculation_duration_seconds_count 1")
	assert.Contains(t, stderr, "# TYPE cellcalc_calc_cell_duration_seconds histogram")
	assert.Contains(t, stderr, `cellcalc_table_calculation_duration_seconds_bucket{le="+Inf"} 1`)
}

func TestCalc_VerboseLogs(t *testing.T) {
	_, stderr, err := execute(t, "-v", "calc", "testdata/budget.yaml")
	require.NoError(t, err)
	assert.Contains(t, stderr, "calculation started")
	assert.Contains(t, stderr, "level=INFO")
}

// ============================================================================
// Database
// ============================================================================

func TestCalc_Database(t *testing.T) {
	db := filepath.Join(t.TempDir(), "budget.db")

	out, _, err := execute(t, "import", "testdata/budget.yaml", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "(4 cells)")

	out, _, err = execute(t, "--format", "json", "calc", "--db", db)
	require.NoError(t, err)
	first := decodeCalc(t, out)
	assert.Len(t, first.Data.List, 4)

	out, _, err = execute(t, "--format", "json", "calc", "--db", db, "--cells", "A1")
	require.NoError(t, err)
	second := decodeCalc(t, out)
	assert.Len(t, second.Data.List, 3)
	assert.Equal(t, float64(30), second.Data.Map["B2"].Props["value"])

	out, _, err = execute(t, "--format", "json", "history", "--db", db)
	require.NoError(t, err)
	var history struct {
		Data HistoryResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history.Data.Calculations, 2)
	assert.Equal(t, first.Data.EID, history.Data.Calculations[0].EID)
	assert.Equal(t, 3, history.Data.Calculations[1].CellCount)

	out, _, err = execute(t, "history", "--db", db, "--eid", second.Data.EID)
	require.NoError(t, err)
	assert.Contains(t, out, "calculation "+second.Data.EID+" (3 cells)")
}

func TestHistory_Empty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	out, _, err := execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No calculations recorded.")

	_, _, err = execute(t, "history", "--db", db, "--eid", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calculation not found")
}

func TestImport_RequiresDB(t *testing.T) {
	_, _, err := execute(t, "import", "testdata/budget.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}
