package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGolden(t *testing.T) {
	for _, name := range []string{"chain_edit", "functions", "cycles", "errors"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)

			_, err = RunWithGolden(t, s)
			require.NoError(t, err)
		})
	}
}
