package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cellcalc/internal/cell"
)

// Snapshot renders a result as canonical JSON for golden comparison.
// Elapsed times and content hashes are left out; everything else in a
// response is deterministic for a scenario.
func Snapshot(name string, result *Result) ([]byte, error) {
	steps := make([]any, len(result.Responses))
	for i, resp := range result.Responses {
		list := make([]any, len(resp.List))
		for j, cr := range resp.List {
			entry := map[string]any{
				"key":   cr.Key,
				"ok":    cr.OK,
				"value": cr.Data.DisplayValue(),
			}
			if cr.Error != nil {
				entry["error"] = string(cr.Error.Type)
			}
			list[j] = entry
		}
		steps[i] = map[string]any{
			"eid":  resp.EID,
			"ok":   resp.OK,
			"list": list,
		}
	}

	return cell.MarshalCanonical(map[string]any{
		"name":  name,
		"steps": steps,
	})
}

// RunWithGolden executes a scenario and compares its responses against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the responses don't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
