package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("E001", "trace failed", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, "E001", resp.Error.Code)
	assert.Equal(t, "trace failed", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"file": "net.cue", "line": "42"}
	err := formatter.Error("E002", "model unreadable", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("2 file(s) valid")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "2 file(s) valid")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("E001", "trace failed", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "trace failed")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"file": "net.cue"}
	err := formatter.Error("E001", "trace failed", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Validating model: %s", "net.yaml")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Validating model: net.yaml")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

	formatter.VerboseLog("Loaded model %s", "net.yaml")
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Loaded model net.yaml")
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"exit error", NewExitError(ExitCommandError, "bad path"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "pipeline failed", errors.New("boom"))), ExitFailure},
		{"plain error", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}

	inner := errors.New("boom")
	err := WrapExitError(ExitFailure, "pipeline failed", inner)
	assert.Equal(t, "pipeline failed: boom", err.Error())
	assert.ErrorIs(t, err, inner)
}

func linearGraphModule(t *testing.T) *fx.GraphModule {
	t.Helper()
	g := ir.New()
	x, err := g.Create(ir.NodeSpec{Kind: ir.KindInput, Target: "x"})
	require.NoError(t, err)
	fc, err := g.Create(ir.NodeSpec{Kind: ir.KindCallModule, Target: "fc", Args: []ir.Arg{x}})
	require.NoError(t, err)
	_, err = g.Create(ir.NodeSpec{Kind: ir.KindOutput, Target: "output", Args: []ir.Arg{fc}})
	require.NoError(t, err)
	gm := fx.New("Net", g, nil, map[string]nn.Module{"fc": nn.NewLinear(4, 4)})
	require.Equal(t, fx.StageTraced, gm.Stage())
	return gm
}

func TestOutputFormatter_Graph(t *testing.T) {
	gm := linearGraphModule(t)

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}
		require.NoError(t, formatter.Graph("net.yaml", gm))
		assert.Contains(t, buf.String(), "net.yaml (Net) stage=traced fingerprint=")
		assert.Contains(t, buf.String(), ir.Pretty(gm.Graph))
	})

	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "json", Writer: buf}
		require.NoError(t, formatter.Graph("net.yaml", gm))

		var report GraphReport
		resp := decodeResponse(t, buf.String(), &report)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "traced", report.Stage)
		assert.Equal(t, 3, report.Nodes)
		assert.Equal(t, ir.MustFingerprint(gm.Graph), report.Fingerprint)
	})
}
