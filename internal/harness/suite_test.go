package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioSuite runs every bundled scenario. Together they exercise
// fusion, observation, lowering, standalone units, QAT preparation,
// FloatFunctional swapping and trace failures end to end.
func TestScenarioSuite(t *testing.T) {
	result, err := RunSuite(context.Background(), []string{filepath.Join("testdata", "scenarios")})
	require.NoError(t, err)

	assert.Equal(t, 7, result.Total)
	assert.Equal(t, result.Total, result.Passed, "failures: %+v", result.Failures)
	assert.Empty(t, result.Failures)
}

func TestRunSuite_CountsLoadFailures(t *testing.T) {
	result, err := RunSuite(context.Background(), []string{
		filepath.Join("testdata", "scenarios", "linear_relu.yaml"),
		filepath.Join("testdata", "invalid"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Passed)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Error, "failed to load scenario")
}

func TestExpandPaths(t *testing.T) {
	files, err := ExpandPaths([]string{filepath.Join("testdata", "scenarios")})
	require.NoError(t, err)
	require.Len(t, files, 7)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "branchy_trace_failure.yaml"), files[0])

	_, err = ExpandPaths([]string{filepath.Join("testdata", "nowhere")})
	var nf *ScenarioNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, filepath.Join("testdata", "nowhere"), nf.Path)
}
