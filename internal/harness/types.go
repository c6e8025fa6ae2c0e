package harness

import (
	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/table"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation matched.
	Pass bool `json:"pass"`

	// Responses holds one response per step.
	Responses []*table.Response `json:"responses"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Cells is the table after the last step.
	Cells cell.Cells `json:"cells"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Responses: []*table.Response{},
		Errors:    []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
