package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apeichen/fpga-aichip/internal/xr"
)

// createTestStore opens a fresh database under t.TempDir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string) Run {
	return Run{
		ID:             id,
		Label:          "bench",
		Channels:       xr.DefaultChannels4(),
		DebounceCycles: 16,
		TripThreshold:  4,
		EngineVersion:  xr.EngineVersion,
		RecordVersion:  xr.RecordVersion,
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_MigratesVersionZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := Open(path)
	require.NoError(t, err)

	// Simulate a version-0 database: no finished column, no index.
	_, err = s.db.Exec(`DROP INDEX idx_evaluations_state`)
	require.NoError(t, err)
	_, err = s.db.Exec(`ALTER TABLE runs DROP COLUMN finished`)
	require.NoError(t, err)
	_, err = s.db.Exec(`PRAGMA user_version = 0`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.verifyPragma("user_version", "1"))
	ctx := context.Background()
	require.NoError(t, s.WriteRun(ctx, testRun("r")))
	require.NoError(t, s.FinishRun(ctx, "r", "d"))
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestWriteAndReadRun(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.WriteRun(ctx, testRun("run-1")))
	assert.Error(t, s.WriteRun(ctx, testRun("run-1")), "duplicate id")

	r, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, testRun("run-1"), r)

	require.NoError(t, s.FinishRun(ctx, "run-1", "abc"))
	r, err = s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, r.Finished)
	assert.Equal(t, "abc", r.Digest)

	_, err = s.ReadRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.FinishRun(ctx, "missing", "x"), ErrRunNotFound)
}

func TestWriteCycle_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.WriteRun(ctx, testRun("run-1")))

	out := xr.Outputs{
		State:          xr.StateSafe,
		Fault:          true,
		Safe:           true,
		ViolationValid: true,
		ViolationCode:  xr.NewViolationCode(xr.OverCurrent, 2),
		FaultMask:      xr.OverCurrent,
		LastSample:     xr.Sample{Channel: 2, Value: 0x1800, Seq: 3, Valid: true},
		SampleValid:    true,
	}
	ev := &Evaluation{
		RunID:      "run-1",
		Cycle:      2,
		Cause:      "sample",
		Captured:   true,
		Sample:     out.LastSample,
		Outputs:    out,
		Violations: []xr.Violation{{Channel: 2, Kind: xr.Over, Severity: 12, Code: out.ViolationCode}},
		Digest:     "d2",
	}

	require.NoError(t, s.WriteCycle(ctx, Input{RunID: "run-1", Cycle: 1, Kind: "capture_enable", Flag: true}, nil))
	require.NoError(t, s.WriteCycle(ctx, Input{RunID: "run-1", Cycle: 2, Kind: "trigger_edge", Channel: 2, Value: 0x1800}, ev))
	require.NoError(t, s.WriteCycle(ctx, Input{RunID: "run-1", Cycle: 3, Kind: "configure", Channel: 1, Min: 5, Max: 9}, nil))

	inputs, err := s.ReadInputs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.Equal(t, Input{RunID: "run-1", Cycle: 1, Kind: "capture_enable", Flag: true}, inputs[0])
	assert.Equal(t, uint16(0x1800), inputs[1].Value)
	assert.Equal(t, uint16(5), inputs[2].Min)
	assert.Equal(t, uint16(9), inputs[2].Max)

	evals, err := s.ReadEvaluations(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, *ev, evals[0])

	counts, err := s.CountByState(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[xr.State]int{xr.StateSafe: 1}, counts)
}

func TestWriteCycle_DuplicateCycleRollsBack(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.WriteRun(ctx, testRun("run-1")))

	ev := &Evaluation{RunID: "run-1", Cycle: 1, Cause: "tick", Outputs: xr.IdleOutputs()}
	require.NoError(t, s.WriteCycle(ctx, Input{RunID: "run-1", Cycle: 1, Kind: "tick"}, ev))

	// The input insert conflicts; nothing from this call persists.
	err := s.WriteCycle(ctx, Input{RunID: "run-1", Cycle: 1, Kind: "tick"}, ev)
	assert.Error(t, err)

	evals, err := s.ReadEvaluations(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, evals, 1)
}

func TestWriteCycle_UnknownRunRejected(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteCycle(context.Background(), Input{RunID: "ghost", Cycle: 1, Kind: "tick"}, nil)
	assert.Error(t, err, "foreign keys are enforced")
}

func TestReadEmpty(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	inputs, err := s.ReadInputs(ctx, "none")
	require.NoError(t, err)
	assert.NotNil(t, inputs)
	assert.Empty(t, inputs)

	evals, err := s.ReadEvaluations(ctx, "none")
	require.NoError(t, err)
	assert.NotNil(t, evals)
	assert.Empty(t, evals)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.WriteRun(ctx, testRun("b")))
	require.NoError(t, s.WriteRun(ctx, testRun("a")))
	require.NoError(t, s.WriteCycle(ctx, Input{RunID: "b", Cycle: 1, Kind: "power_on"},
		&Evaluation{RunID: "b", Cycle: 1, Cause: "request", Outputs: xr.Outputs{State: xr.StateRun, PowerEnable: true}}))
	require.NoError(t, s.WriteCycle(ctx, Input{RunID: "b", Cycle: 2, Kind: "capture_enable", Flag: true}, nil))
	require.NoError(t, s.FinishRun(ctx, "b", "digest-b"))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, RunSummary{ID: "a", Label: "bench", FinalState: xr.StateIdle}, runs[0])
	assert.Equal(t, RunSummary{
		ID: "b", Label: "bench", Inputs: 2, Evaluations: 1,
		FinalState: xr.StateRun, Digest: "digest-b", Finished: true,
	}, runs[1])
}
