package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceMissingModelArg(t *testing.T) {
	_, err := execute(NewTraceCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTrace_Text(t *testing.T) {
	model := writeFile(t, t.TempDir(), "net.yaml", nestedYAML)

	out, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), model, "--scopes")
	require.NoError(t, err)
	assert.Contains(t, out, "(Net) stage=traced")
	assert.Contains(t, out, "block_inner")
	assert.Contains(t, out, "=== Scopes ===")
	assert.Contains(t, out, "fc: <root>")
	assert.Contains(t, out, "block_inner: block (Block)")
}

func TestTrace_JSONScopes(t *testing.T) {
	model := writeFile(t, t.TempDir(), "net.yaml", nestedYAML)

	out, err := execute(NewTraceCommand(&RootOptions{Format: "json"}), model)
	require.NoError(t, err)

	var data struct {
		Stage  string      `json:"stage"`
		Nodes  int         `json:"nodes"`
		Scopes []NodeScope `json:"scopes"`
	}
	decodeResponse(t, out, &data)
	assert.Equal(t, "traced", data.Stage)
	assert.Equal(t, 4, data.Nodes)

	byNode := map[string]NodeScope{}
	for _, s := range data.Scopes {
		byNode[s.Node] = s
	}
	assert.Equal(t, "", byNode["fc"].ModulePath)
	assert.Equal(t, "block", byNode["block_inner"].ModulePath)
	assert.Equal(t, "Block", byNode["block_inner"].ModuleType)
}

func TestTrace_SkippedModuleIsLeaf(t *testing.T) {
	model := writeFile(t, t.TempDir(), "net.yaml", nestedYAML)

	tests := []struct {
		name string
		args []string
	}{
		{"by name", []string{"--skip-module", "block"}},
		{"by type", []string{"--skip-type", "Block"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), append([]string{model}, tt.args...)...)
			require.NoError(t, err)
			assert.NotContains(t, out, "block_inner")
			assert.Contains(t, out, "call_module")
		})
	}
}

func TestTrace_DataDependentBranch(t *testing.T) {
	model := writeFile(t, t.TempDir(), "gate.yaml", gateYAML)

	out, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), model)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "DATA_DEPENDENT_CONTROL_FLOW")
}
