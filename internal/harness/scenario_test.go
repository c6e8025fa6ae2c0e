package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "chain_edit.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "chain_edit", s.Name)
	assert.Len(t, s.Cells, 4)
	require.Len(t, s.Steps, 2)
	assert.Empty(t, s.Steps[0].Calculate)
	assert.Equal(t, []string{"A1"}, s.Steps[1].Calculate)
	require.NotNil(t, s.Steps[1].Expect)
	assert.Equal(t, []string{"A1", "A2", "A3"}, s.Steps[1].Expect.Keys)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join("testdata", "scenarios", "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ncells: {A1: 1}\nsteps: [{calculate: []}]\nflow: []\n",
			msg:  "field flow not found",
		},
		{
			name: "missing name",
			yaml: "cells: {A1: 1}\nsteps: [{calculate: []}]\n",
			msg:  "name is required",
		},
		{
			name: "missing cells",
			yaml: "name: x\nsteps: [{calculate: []}]\n",
			msg:  "cells are required",
		},
		{
			name: "missing steps",
			yaml: "name: x\ncells: {A1: 1}\n",
			msg:  "at least one step",
		},
		{
			name: "bad expected key",
			yaml: "name: x\ncells: {A1: 1}\nsteps: [{calculate: [], expect: {keys: [1A]}}]\n",
			msg:  "steps[0].expect.keys",
		},
		{
			name: "bad error type",
			yaml: "name: x\ncells: {A1: 1}\nsteps: [{calculate: [], expect: {errors: {A1: REF/oops}}}]\n",
			msg:  `unknown error type "REF/oops"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
