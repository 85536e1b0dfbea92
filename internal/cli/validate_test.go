package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runValidateCmd(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateDefaults(t *testing.T) {
	out, err := runValidateCmd(t, &RootOptions{Format: "text"})
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 4 channel(s) from preset four, debounce 16, trip threshold 4")
	assert.Contains(t, out, "iout")
	assert.Contains(t, out, "[0x0000, 0x1500] under=8 over=12")
}

func TestValidateCUEFileJSON(t *testing.T) {
	path := writeTemp(t, "bench.cue", `
channels: [
	{name: "vin", kind: "voltage", min: 0x0800, max: 0x1200},
	{name: "iout", kind: "current", min: 0, max: 0x1500, over_severity: 3},
]
`)
	out, err := runValidateCmd(t, &RootOptions{Format: "json"}, path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, path, resp.Data.Source)
	require.Len(t, resp.Data.Channels, 2)
	assert.Equal(t, uint8(8), resp.Data.Channels[0].OverSeverity, "voltage over-range defaults to 8")
	assert.Equal(t, uint8(3), resp.Data.Channels[1].OverSeverity)
}

func TestValidateInvertedEnvelope(t *testing.T) {
	path := writeTemp(t, "bench.yaml", "channels:\n  - {name: vin, kind: voltage, min: 0x1200, max: 0x0800}\n")

	out, err := runValidateCmd(t, &RootOptions{Format: "text"}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "[E101] channels.envelope")
	assert.Contains(t, out, "ENVELOPE_INVERTED")
}

func TestValidateCUESchemaViolationJSON(t *testing.T) {
	path := writeTemp(t, "bench.cue", `channels: [{name: "x", min: 0, max: 70000}]`)

	out, err := runValidateCmd(t, &RootOptions{Format: "json"}, path)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeChannels, resp.Error.Code)
}

func TestValidateBadPolicy(t *testing.T) {
	cfgPath := writeTemp(t, "xrcore.yaml", "governor:\n  debounce: 0\n")

	out, err := runValidateCmd(t, &RootOptions{Format: "text", Config: cfgPath})
	require.Error(t, err)
	assert.Contains(t, out, "[E102] governor.debounce")
	assert.Contains(t, out, "DEBOUNCE_INVALID")
}

func TestValidateBadConfig(t *testing.T) {
	cfgPath := writeTemp(t, "xrcore.yaml", "log:\n  format: xml\n")

	out, err := runValidateCmd(t, &RootOptions{Format: "text", Config: cfgPath})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "[E002] config")
}

func TestValidateMissingChannelsFile(t *testing.T) {
	out, err := runValidateCmd(t, &RootOptions{Format: "text"}, filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
	assert.Contains(t, out, "[E003] channels")
}

func TestValidateConfiguredTable(t *testing.T) {
	cfgPath := writeTemp(t, "xrcore.yaml", `
channels:
  table:
    - {name: a, kind: temperature, min: 0, max: 85}
`)
	out, err := runValidateCmd(t, &RootOptions{Format: "text", Config: cfgPath})
	require.NoError(t, err)
	assert.Contains(t, out, "from channels.table")
}
