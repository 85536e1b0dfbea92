package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apeichen/fpga-aichip/internal/store"
	"github.com/apeichen/fpga-aichip/internal/testutil"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

func recordScenario(t *testing.T, s *store.Store, opts ...Option) *Engine {
	t.Helper()
	opts = append(opts, WithRecorder(s))
	e := newTestEngine(t, opts...)
	ctx := context.Background()

	steps(t, e,
		nominal(),
		[]Event{PowerOn(), SetInput(chIout, 0x1800)},
		repeat(Trigger(), 5),
		[]Event{SetInput(chIout, 0x0C00)},
		repeat(Trigger(), 5),
		repeat(Tick(), 16),
		[]Event{PowerOn()},
	)
	// Rejected events are part of the recording too.
	_, err := e.Step(ctx, Configure(chVin, xr.Envelope{Min: 5, Max: 1}))
	require.Error(t, err)
	steps(t, e, []Event{Reset(), PowerOn()})

	_, err = e.Finish(ctx)
	require.NoError(t, err)
	return e
}

func TestReplay_ReproducesRecordedRun(t *testing.T) {
	s := setupTestStore(t)
	e := recordScenario(t, s)

	res, err := Replay(context.Background(), s, e.RunID())
	require.NoError(t, err)

	assert.Empty(t, res.Mismatches)
	assert.True(t, res.Deterministic())
	assert.Equal(t, e.TraceDigest(), res.RecordedDigest)
	assert.Equal(t, res.RecordedDigest, res.ReplayedDigest)
	assert.Equal(t, int(e.Clock().Current()), res.Cycles)
	assert.Equal(t, len(e.Digests()), res.Evaluations)
	assert.Equal(t, e.Outputs(), res.FinalOutputs)
	assert.Equal(t, xr.StateIdle, res.FinalOutputs.State, "config fault survives reset")
}

func TestReplay_ExternalSourceValuesAreRecorded(t *testing.T) {
	s := setupTestStore(t)
	adc := testutil.NewScriptedADC(4)
	adc.Set(chVin, 0x1000)
	adc.Set(chVout, 0x0C00)
	adc.Set(chIout, 3000)
	adc.Set(chTemp, 0x0200)
	adc.Script(chIout, 3000, 0x1800)

	e := newTestEngine(t, WithSource(adc), WithRecorder(s))
	steps(t, e, []Event{CaptureEnable(true), PowerOn()}, repeat(Trigger(), 8))
	require.Equal(t, xr.StateSafe, e.State())
	_, err := e.Finish(context.Background())
	require.NoError(t, err)

	res, err := Replay(context.Background(), s, e.RunID())
	require.NoError(t, err)
	assert.True(t, res.Deterministic(), "%v", res.Mismatches)
	assert.Equal(t, xr.StateSafe, res.FinalOutputs.State)
}

func TestReplay_UnknownRun(t *testing.T) {
	s := setupTestStore(t)
	_, err := Replay(context.Background(), s, "missing")
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

// tamperedReader serves a real recording with one evaluation altered.
type tamperedReader struct {
	*store.Store
	cycle int64
}

func (r tamperedReader) ReadEvaluations(ctx context.Context, runID string) ([]store.Evaluation, error) {
	evals, err := r.Store.ReadEvaluations(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i := range evals {
		if evals[i].Cycle == r.cycle {
			evals[i].Outputs.PowerEnable = !evals[i].Outputs.PowerEnable
			evals[i].Digest = "tampered"
		}
	}
	return evals, nil
}

func TestReplay_DetectsDivergence(t *testing.T) {
	s := setupTestStore(t)
	e := recordScenario(t, s)

	evals, err := s.ReadEvaluations(context.Background(), e.RunID())
	require.NoError(t, err)
	target := evals[0].Cycle

	res, err := Replay(context.Background(), tamperedReader{Store: s, cycle: target}, e.RunID())
	require.NoError(t, err)

	assert.False(t, res.Deterministic())
	require.Len(t, res.Mismatches, 2)
	assert.Equal(t, target, res.Mismatches[0].Cycle)
	assert.Equal(t, "outputs", res.Mismatches[0].Field)
	assert.Equal(t, "digest", res.Mismatches[1].Field)
	assert.Equal(t, "tampered", res.Mismatches[1].Recorded)
	assert.Contains(t, res.Mismatches[1].String(), "digest recorded=tampered")
	assert.Equal(t, res.RecordedDigest, res.ReplayedDigest, "trace digest comes from the replay, not the tampered rows")
}
