package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apeichen/fpga-aichip/internal/engine"
	"github.com/apeichen/fpga-aichip/internal/store"
	"github.com/apeichen/fpga-aichip/internal/testutil"
)

// overcurrentEvents powers the four-channel stage, samples every channel
// once, then pushes iout over its envelope.
const overcurrentEvents = `# four-channel bench, iout overload
set_input 0 0x1000
set_input 1 0x0C00
set_input 2 3000
set_input 3 0x0200
capture_enable on
power_on
trigger
trigger
trigger
trigger
set_input 2 0x1800
trigger
trigger
trigger
trigger
trigger
`

func writeEvents(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.events")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newRunOptions(format string) *RunOptions {
	return &RunOptions{
		RootOptions: &RootOptions{Format: format},
		RunIDs:      engine.NewFixedGenerator("run-cli-1"),
	}
}

func decodeRunSummary(t *testing.T, out []byte) RunSummary {
	t.Helper()
	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out, &resp), string(out))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRunRecordsOvercurrentTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "xrcore.db")
	opts := newRunOptions("json")
	opts.Database = dbPath
	opts.Input = writeEvents(t, overcurrentEvents)
	opts.Label = "bench"

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})

	require.NoError(t, runEngine(opts, cmd))

	summary := decodeRunSummary(t, buf.Bytes())
	assert.Equal(t, "run-cli-1", summary.RunID)
	assert.Equal(t, "bench", summary.Label)
	assert.Equal(t, int64(16), summary.Cycles)
	assert.Equal(t, 16, summary.Events)
	assert.Zero(t, summary.Rejected)
	assert.Equal(t, 10, summary.Evaluations)
	assert.Equal(t, 1, summary.Trips)
	assert.Equal(t, "SAFE", summary.State)
	assert.Equal(t, "OVER_CURRENT@ch2", summary.Violation)
	assert.Equal(t, 20, summary.Frames, "9 samples, 10 status frames, 1 fault")
	assert.NotEmpty(t, summary.Digest)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	run, err := st.ReadRun(ctx, "run-cli-1")
	require.NoError(t, err)
	assert.True(t, run.Finished)
	assert.Equal(t, summary.Digest, run.Digest)
	assert.Equal(t, "bench", run.Label)

	inputs, err := st.ReadInputs(ctx, "run-cli-1")
	require.NoError(t, err)
	assert.Len(t, inputs, 16)
}

func TestRunReadsStdin(t *testing.T) {
	opts := newRunOptions("text")
	opts.Bus = "none"

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("capture_enable on\n\n# idle\n{\"kind\":\"tick\"}\n"))

	require.NoError(t, runEngine(opts, cmd))

	out := buf.String()
	assert.Contains(t, out, "Run run-cli-1 finished after 2 cycle(s)")
	assert.Contains(t, out, "State:       IDLE")
	assert.NotContains(t, out, "Recorded to:")
}

func TestRunRejectedEventsAreCounted(t *testing.T) {
	opts := newRunOptions("json")
	opts.Input = writeEvents(t, "configure 0 0x1200 0x0800\nset_input 9 0x0100\ntick\n")

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})

	require.NoError(t, runEngine(opts, cmd))

	summary := decodeRunSummary(t, buf.Bytes())
	assert.Equal(t, 3, summary.Events)
	assert.Equal(t, 2, summary.Rejected)
	assert.Equal(t, int64(3), summary.Cycles, "rejected events still take a cycle")
}

func TestRunInvalidInput(t *testing.T) {
	opts := newRunOptions("text")
	opts.Input = writeEvents(t, "tick\nwarp 9\n")

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})

	err := runEngine(opts, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, buf.String(), "Error [E001]: invalid input")
}

func TestRunMissingInputFile(t *testing.T) {
	opts := newRunOptions("text")
	opts.Input = filepath.Join(t.TempDir(), "missing.events")

	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := runEngine(opts, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open input")
}

func TestRunBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "xrcore.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("bus:\n  backend: carrier-pigeon\n"), 0644))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Config: cfgPath}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown bus backend")
}

func TestRunUnwritableDatabase(t *testing.T) {
	opts := newRunOptions("text")
	opts.Database = filepath.Join(t.TempDir(), "no", "such", "dir", "xrcore.db")
	opts.Input = writeEvents(t, "tick\n")

	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := runEngine(opts, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open database")
}

func TestRunManualTicks(t *testing.T) {
	ticker := testutil.NewManualTicker(4)
	ticker.Fire()
	ticker.Fire()

	opts := newRunOptions("json")
	opts.Ticker = ticker

	// The input stays open until both ticks have been consumed, so the run
	// cannot end before it has seen them.
	in := &gatedReader{data: "tick\n", ready: func() bool { return len(ticker.C()) == 0 }}

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(in)

	require.NoError(t, runEngine(opts, cmd))

	summary := decodeRunSummary(t, buf.Bytes())
	assert.Equal(t, 3, summary.Events, "one queued tick and two timer ticks")
	assert.Equal(t, 3, summary.Evaluations)
}

// gatedReader returns data, then blocks EOF until ready reports true.
type gatedReader struct {
	data  string
	ready func() bool
	done  bool
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if !g.done {
		g.done = true
		return copy(p, g.data), nil
	}
	for !g.ready() {
		runtime.Gosched()
	}
	return 0, io.EOF
}

func TestLoadRunConfigOverrides(t *testing.T) {
	opts := newRunOptions("text")
	opts.Database = "/tmp/x.db"
	opts.Bus = "none"
	opts.MetricsAddr = "127.0.0.1:0"

	cfg, err := loadRunConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Store.Path)
	assert.Equal(t, "none", cfg.Bus.Backend)
	assert.Equal(t, "127.0.0.1:0", cfg.Metrics.Addr)

	opts.Bus = "kafka"
	_, err = loadRunConfig(opts)
	require.Error(t, err)
}

func TestRunHelpText(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	assert.Equal(t, "run", cmd.Use)
	assert.Contains(t, cmd.Long, "trigger_edge auto 0x0C00")
	assert.NotNil(t, cmd.Flags().Lookup("input"))
	assert.NotNil(t, cmd.Flags().Lookup("db"))
}
