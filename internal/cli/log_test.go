package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxq/internal/store"
)

// quantizeInto records a quantize run of model in the log at dbPath and
// returns its unit ID.
func quantizeInto(t *testing.T, dbPath, model string, extra ...string) string {
	t.Helper()
	args := append([]string{model, "--db", dbPath}, extra...)
	out, err := execute(NewQuantizeCommand(&RootOptions{Format: "json"}), args...)
	require.NoError(t, err)
	var report GraphReport
	decodeResponse(t, out, &report)
	require.NotEmpty(t, report.UnitID)
	return report.UnitID
}

func TestLogMissingDatabaseFlag(t *testing.T) {
	_, err := execute(NewLogCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestLogNonExistentDatabase(t *testing.T) {
	_, err := execute(NewLogCommand(&RootOptions{Format: "text"}), "--db", "/nonexistent/path/test.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open database")
}

func TestLogEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fxq.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	out, err := execute(NewLogCommand(&RootOptions{Format: "text"}), "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestLog_ListsRunsAndUnitTree(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "fxq.db")
	model := writeFile(t, dir, "net.yaml", netYAML)
	first := quantizeInto(t, dbPath, model)
	second := quantizeInto(t, dbPath, model)

	out, err := execute(NewLogCommand(&RootOptions{Format: "json"}), "--db", dbPath)
	require.NoError(t, err)
	var runs LogResult
	decodeResponse(t, out, &runs)
	require.Len(t, runs.Units, 2)
	assert.Equal(t, first, runs.Units[0].ID)
	assert.Equal(t, second, runs.Units[1].ID)

	out, err = execute(NewLogCommand(&RootOptions{Format: "json"}), "--db", dbPath, first)
	require.NoError(t, err)
	var tree LogResult
	decodeResponse(t, out, &tree)
	require.Len(t, tree.Units, 1)
	stages := tree.Units[0].Stages
	require.Len(t, stages, 4)
	assert.Equal(t, []string{"traced", "fused", "prepared", "converted"},
		[]string{stages[0].Stage, stages[1].Stage, stages[2].Stage, stages[3].Stage})
	assert.Equal(t, 5, stages[3].Nodes)

	out, err = execute(NewLogCommand(&RootOptions{Format: "text"}), "--db", dbPath, first)
	require.NoError(t, err)
	assert.Contains(t, out, first+" Net")
	assert.Contains(t, out, "converted")
}

func TestLog_UnknownUnit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fxq.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	_, err = execute(NewLogCommand(&RootOptions{Format: "text"}), "--db", dbPath, "no-such-unit")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unit not found")
}

func TestLog_DiffIdenticalRuns(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "fxq.db")
	model := writeFile(t, dir, "net.yaml", netYAML)
	first := quantizeInto(t, dbPath, model)
	second := quantizeInto(t, dbPath, model)

	out, err := execute(NewLogCommand(&RootOptions{Format: "text"}), "--db", dbPath, first, "--diff", second)
	require.NoError(t, err)
	assert.Contains(t, out, "are identical")
}

func TestLog_DiffDivergingRuns(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "fxq.db")
	model := writeFile(t, dir, "net.yaml", netYAML)
	first := quantizeInto(t, dbPath, model)
	second := quantizeInto(t, dbPath, model, "--policy", "float")

	out, err := execute(NewLogCommand(&RootOptions{Format: "json"}), "--db", dbPath, first, "--diff", second)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result DiffResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeRunsDiffer, resp.Error.Code)
	assert.False(t, result.Identical)
	require.NotEmpty(t, result.Differences)
	for _, d := range result.Differences {
		assert.Equal(t, "", d.Path)
	}
}

func TestLog_DiffRequiresUnit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fxq.db")
	_, err := execute(NewLogCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--diff", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
