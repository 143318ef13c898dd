package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const netYAML = `definitions:
  Net:
    modules:
      - {name: fc, type: Linear, params: {in_features: 4, out_features: 4}}
      - {name: relu, type: ReLU}
`

const nestedYAML = `model: Net
definitions:
  Net:
    modules:
      - {name: fc, type: Linear, params: {in_features: 4, out_features: 4}}
      - {name: block, type: Block}
  Block:
    modules:
      - {name: inner, type: Linear, params: {in_features: 4, out_features: 4}}
`

const gateYAML = `definitions:
  Gate:
    modules:
      - {name: fc, type: Linear}
    forward:
      - {call: fc, args: [x], out: h}
      - {branch: h}
    output: h
`

const invalidYAML = `definitions:
  Bad:
    modules:
      - {name: fc, type: Nope}
    forward:
      - {call: fc, args: [ghost], out: h}
    output: h
`

// writeFile writes content to dir/name and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// jsonResponse is CLIResponse with the payload left undecoded.
type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// decodeResponse decodes a JSON response and its payload into data.
func decodeResponse(t *testing.T, out string, data any) jsonResponse {
	t.Helper()
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}
