package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cellcalc/internal/cell"
)

// Scenario is a table fixture plus the calculations to run against it.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Cells seed the table. Entries are bare values or {value, props}.
	Cells map[string]any `yaml:"cells"`

	// Steps run in order against the same table.
	Steps []Step `yaml:"steps"`

	path string
}

// Step edits cells, then recalculates.
type Step struct {
	// Set replaces cells before the calculation.
	Set map[string]any `yaml:"set,omitempty"`

	// Calculate lists the changed keys or ranges. Empty means every cell.
	Calculate []string `yaml:"calculate"`

	// Expect checks the response. If nil, only errors from the run itself
	// fail the step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is a subset match on a response.
type Expect struct {
	// OK is the expected response status.
	OK *bool `yaml:"ok,omitempty"`

	// Keys is the exact closure, in list order.
	Keys []string `yaml:"keys,omitempty"`

	// Values are the values dependents read: calculated values for formulas,
	// raw values otherwise.
	Values map[string]any `yaml:"values,omitempty"`

	// Errors map a cell to its error type. "" asserts no error.
	Errors map[string]string `yaml:"errors,omitempty"`

	// Failed is the expected count of cells with errors.
	Failed *int `yaml:"failed,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.path = path
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Cells) == 0 {
		return fmt.Errorf("cells are required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	for i, step := range s.Steps {
		if step.Expect == nil {
			continue
		}
		for _, k := range step.Expect.Keys {
			if _, err := cell.Normalize(k); err != nil {
				return fmt.Errorf("steps[%d].expect.keys: %w", i, err)
			}
		}
		for k := range step.Expect.Values {
			if _, err := cell.Normalize(k); err != nil {
				return fmt.Errorf("steps[%d].expect.values: %w", i, err)
			}
		}
		for k, typ := range step.Expect.Errors {
			if _, err := cell.Normalize(k); err != nil {
				return fmt.Errorf("steps[%d].expect.errors: %w", i, err)
			}
			if typ != "" && !knownErrorType(cell.ErrorType(typ)) {
				return fmt.Errorf("steps[%d].expect.errors.%s: unknown error type %q", i, k, typ)
			}
		}
	}
	return nil
}

func knownErrorType(t cell.ErrorType) bool {
	switch t {
	case cell.ErrCircular, cell.ErrUnresolved, cell.ErrNotFound, cell.ErrInvoke, cell.ErrSyntax:
		return true
	}
	return false
}
