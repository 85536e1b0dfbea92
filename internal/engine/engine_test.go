package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apeichen/fpga-aichip/internal/bus"
	"github.com/apeichen/fpga-aichip/internal/capture"
	"github.com/apeichen/fpga-aichip/internal/governor"
	"github.com/apeichen/fpga-aichip/internal/metrics"
	"github.com/apeichen/fpga-aichip/internal/store"
	"github.com/apeichen/fpga-aichip/internal/testutil"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

const (
	chVin  = 0
	chVout = 1
	chIout = 2
	chTemp = 3
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithRunIDGenerator(NewFixedGenerator("run-1"))}, opts...)
	e, err := New(xr.DefaultChannels4(), governor.DefaultPolicy(), opts...)
	require.NoError(t, err)
	return e
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// nominal puts every channel of the four-channel preset inside its envelope
// and enables capture.
func nominal() []Event {
	return []Event{
		SetInput(chVin, 0x1000),
		SetInput(chVout, 0x0C00),
		SetInput(chIout, 3000),
		SetInput(chTemp, 0x0200),
		CaptureEnable(true),
	}
}

func repeat(ev Event, n int) []Event {
	out := make([]Event, n)
	for i := range out {
		out[i] = ev
	}
	return out
}

func steps(t *testing.T, e *Engine, groups ...[]Event) []Report {
	t.Helper()
	var reps []Report
	for _, g := range groups {
		for _, ev := range g {
			rep, err := e.Step(context.Background(), ev)
			require.NoError(t, err, "event %s", ev)
			reps = append(reps, rep)
		}
	}
	return reps
}

func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	return 0
}

func TestEngine_New(t *testing.T) {
	e := newTestEngine(t)
	assert.Equal(t, "run-1", e.RunID())
	assert.Equal(t, xr.StateIdle, e.State())
	assert.False(t, e.CaptureEnabled())
	assert.Equal(t, int64(0), e.Clock().Current())
	assert.Len(t, e.Channels(), 4)

	_, err := New(nil, governor.DefaultPolicy())
	assert.Error(t, err)

	_, err = New(xr.DefaultChannels4(), governor.Policy{})
	assert.Error(t, err)
}

func TestEngine_Step_OneCyclePerEvent(t *testing.T) {
	e := newTestEngine(t)
	reps := steps(t, e, nominal(), []Event{Tick(), PowerOn()})

	for i, rep := range reps {
		assert.Equal(t, int64(i+1), rep.Cycle)
		assert.Equal(t, "run-1", rep.RunID)
	}
	assert.Equal(t, int64(len(reps)), e.Clock().Current())
}

func TestEngine_TriggerWhileDisabledIsDropped(t *testing.T) {
	e := newTestEngine(t)

	rep, err := e.Step(context.Background(), Trigger())
	require.NoError(t, err)
	assert.False(t, rep.Captured)
	assert.False(t, rep.Evaluated)
	assert.Empty(t, rep.Digest)
	assert.Equal(t, uint32(0), e.Seq())
}

func TestEngine_TriggerCapturesRoundRobin(t *testing.T) {
	e := newTestEngine(t)
	reps := steps(t, e, nominal(), repeat(Trigger(), 4))

	want := []uint16{0x1000, 0x0C00, 3000, 0x0200}
	for i, rep := range reps[len(reps)-4:] {
		require.True(t, rep.Captured)
		assert.Equal(t, i, rep.Sample.Channel)
		assert.Equal(t, uint32(i), rep.Sample.Seq)
		assert.Equal(t, want[i], rep.Sample.Value)
		assert.True(t, rep.Sample.Valid)
		assert.True(t, rep.Evaluated)
		assert.Equal(t, governor.CauseSample, rep.Evaluation.Cause)
		assert.NotEmpty(t, rep.Digest)
	}
	assert.Equal(t, uint32(4), e.Seq())
}

func TestEngine_TriggerEdgeExplicitChannel(t *testing.T) {
	e := newTestEngine(t)
	reps := steps(t, e, []Event{CaptureEnable(true), TriggerEdge(chTemp, 0x0100), TriggerEdge(capture.Auto, 0x1000)})

	assert.Equal(t, chTemp, reps[1].Sample.Channel)
	assert.Equal(t, chVin, reps[2].Sample.Channel, "explicit selection does not move round-robin")
	assert.Equal(t, uint32(1), reps[2].Sample.Seq)
}

func TestEngine_PowerOnThenOverCurrentTrips(t *testing.T) {
	e := newTestEngine(t)
	reps := steps(t, e, nominal(), []Event{PowerOn()})
	last := reps[len(reps)-1]
	assert.True(t, last.Evaluation.Effects.Started)
	assert.Equal(t, xr.StateRun, last.Outputs.State)
	assert.True(t, last.Outputs.PowerEnable)

	steps(t, e, []Event{SetInput(chIout, 0x1800)}, repeat(Trigger(), 5))

	out := e.Outputs()
	assert.Equal(t, xr.StateSafe, out.State)
	assert.True(t, out.Fault)
	assert.True(t, out.Safe)
	assert.False(t, out.PowerEnable)
	assert.Equal(t, xr.NewViolationCode(xr.OverCurrent, chIout), out.ViolationCode)
}

func TestEngine_RecoveryNeedsDebounceThenRequest(t *testing.T) {
	e := newTestEngine(t)
	steps(t, e, nominal(), []Event{PowerOn(), SetInput(chIout, 0x1800)}, repeat(Trigger(), 5))
	require.Equal(t, xr.StateSafe, e.State())

	steps(t, e, []Event{SetInput(chIout, 0x0C00)}, repeat(Trigger(), 5))

	rep, err := e.Step(context.Background(), PowerOn())
	require.NoError(t, err)
	assert.True(t, rep.Evaluation.Effects.Spurious)
	assert.Equal(t, xr.StateSafe, e.State())

	steps(t, e, repeat(Tick(), governor.DefaultPolicy().DebounceCycles))
	assert.True(t, e.Outputs().Armed)
	assert.Equal(t, xr.StateSafe, e.State(), "no recovery without a request")

	rep, err = e.Step(context.Background(), PowerOn())
	require.NoError(t, err)
	assert.True(t, rep.Evaluation.Effects.Recovered)
	assert.Equal(t, xr.StateRun, rep.Outputs.State)
	assert.True(t, rep.Outputs.PowerEnable)
}

func TestEngine_ResetReturnsToIdle(t *testing.T) {
	e := newTestEngine(t)
	steps(t, e, nominal(), []Event{PowerOn()}, repeat(Trigger(), 3))

	rep, err := e.Step(context.Background(), Reset())
	require.NoError(t, err)
	assert.True(t, rep.Evaluated)
	assert.Equal(t, governor.CauseReset, rep.Evaluation.Cause)
	assert.Equal(t, xr.IdleOutputs(), rep.Outputs)
	assert.Equal(t, uint32(0), e.Seq())
	assert.True(t, e.CaptureEnabled(), "capture_en is an external level")
}

func TestEngine_ConfigureRejectedBlocksRun(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Step(context.Background(), Configure(chVin, xr.Envelope{Min: 0x2000, Max: 0x1000}))
	require.Error(t, err)
	assert.True(t, IsConfigRejected(err))
	assert.Equal(t, governor.ErrCodeEnvelopeInverted, governor.ConfigErrorCodeOf(err))

	rep, err := e.Step(context.Background(), PowerOn())
	require.NoError(t, err)
	assert.True(t, rep.Evaluation.Effects.Rejected)
	assert.Equal(t, xr.StateIdle, rep.Outputs.State)
}

func TestEngine_ConfigureCommitsOnNextEvaluation(t *testing.T) {
	e := newTestEngine(t)

	rep, err := e.Step(context.Background(), Configure(chIout, xr.Envelope{Min: 0, Max: 0x1000}))
	require.NoError(t, err)
	assert.False(t, rep.Evaluated)

	rep, err = e.Step(context.Background(), Tick())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Evaluation.Committed)
}

func TestEngine_InputErrors(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Step(context.Background(), SetInput(9, 1))
	assert.True(t, IsChannelOutOfRange(err))

	_, err = e.Step(context.Background(), CaptureEnable(true))
	require.NoError(t, err)
	_, err = e.Step(context.Background(), TriggerEdge(7, 1))
	assert.True(t, IsChannelOutOfRange(err))
	assert.ErrorIs(t, err, capture.ErrChannelOutOfRange)

	_, err = e.Step(context.Background(), Event{Kind: "explode"})
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeUnknownEvent, re.Code)

	assert.Equal(t, int64(4), e.Clock().Current(), "rejected events still take a cycle")
}

type fixedSource uint16

func (f fixedSource) Read(int) uint16 { return uint16(f) }

func TestEngine_ReadOnlySource(t *testing.T) {
	e := newTestEngine(t, WithSource(fixedSource(0x0100)))

	_, err := e.Step(context.Background(), SetInput(0, 1))
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeSourceReadOnly, re.Code)

	reps := steps(t, e, []Event{CaptureEnable(true), Trigger()})
	assert.Equal(t, uint16(0x0100), reps[1].Sample.Value)
}

func TestEngine_ScriptedSource(t *testing.T) {
	adc := testutil.NewScriptedADC(4)
	e := newTestEngine(t, WithSource(adc))

	steps(t, e, []Event{SetInput(chIout, 0x0123), CaptureEnable(true)}, repeat(Trigger(), 3))
	assert.Equal(t, uint16(0x0123), e.Outputs().LastSample.Value)
	assert.Equal(t, 1, adc.Reads(chIout))
}

func TestEngine_PublishesFrames(t *testing.T) {
	b := bus.NewMemoryBus()
	e := newTestEngine(t, WithPublisher(b))

	steps(t, e, nominal(), []Event{PowerOn(), Trigger()})
	assert.Len(t, b.FramesOf(bus.FrameStatus), 2)
	samples := b.FramesOf(bus.FrameSample)
	require.Len(t, samples, 1)
	assert.Equal(t, "run-1", samples[0].RunID)
	assert.Equal(t, uint16(0x1000), samples[0].Value)
	assert.Empty(t, b.FramesOf(bus.FrameFault))

	steps(t, e, []Event{SetInput(chIout, 0x1800)}, repeat(Trigger(), 5))
	faults := b.FramesOf(bus.FrameFault)
	require.Len(t, faults, 1, "one fault frame per trip")
	assert.Equal(t, chIout, faults[0].Channel)
	assert.True(t, faults[0].Safe)
}

func TestEngine_FramesFormCausalChain(t *testing.T) {
	b := bus.NewMemoryBus()
	e := newTestEngine(t, WithPublisher(b))
	steps(t, e, nominal(), []Event{PowerOn(), SetInput(chIout, 0x1800)}, repeat(Trigger(), 5))

	frames := b.Frames()
	require.NotEmpty(t, frames)
	assert.Empty(t, frames[0].ParentID)
	seen := make(map[string]bool)
	for i, f := range frames {
		require.NoError(t, bus.Verify(f), "frame %d", i)
		assert.Len(t, f.TraceID, 32)
		assert.False(t, seen[f.TraceID], "trace ids are unique")
		seen[f.TraceID] = true
		if i > 0 {
			assert.Equal(t, frames[i-1].TraceID, f.ParentID, "frame %d", i)
		}
	}
}

func TestEngine_PublishFailureIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := bus.NewMemoryBus()
	require.NoError(t, b.Close())
	e := newTestEngine(t, WithPublisher(b), WithMetrics(metrics.New(reg)))

	rep, err := e.Step(context.Background(), PowerOn())
	require.NoError(t, err)
	assert.Equal(t, xr.StateRun, rep.Outputs.State, "governor does not depend on the bus")
	assert.Equal(t, 1.0, gathered(t, reg, "xrcore_bus_publish_errors_total"))
	assert.Equal(t, 1.0, gathered(t, reg, "xrcore_governor_evaluations_total"))
}

func TestEngine_RecordsRun(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(t, WithRecorder(s), WithLabel("bring-up"))
	ctx := context.Background()

	reps := steps(t, e, nominal(), []Event{PowerOn()}, repeat(Trigger(), 4))
	digest, err := e.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.TraceDigest(), digest)

	run, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "bring-up", run.Label)
	assert.True(t, run.Finished)
	assert.Equal(t, digest, run.Digest)
	assert.Equal(t, 16, run.DebounceCycles)
	assert.Equal(t, xr.EngineVersion, run.EngineVersion)

	inputs, err := s.ReadInputs(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, inputs, len(reps))

	evals, err := s.ReadEvaluations(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, evals, 5)
	assert.Len(t, e.Digests(), 5)
	for i, ev := range evals {
		assert.Equal(t, e.Digests()[i], ev.Digest)
	}
}

func TestEngine_RecordFailureIsCounted(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Close())
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, WithRecorder(s), WithMetrics(metrics.New(reg)))

	rep, err := e.Step(context.Background(), PowerOn())
	require.NoError(t, err)
	assert.Equal(t, xr.StateRun, rep.Outputs.State)
	assert.Equal(t, 2.0, gathered(t, reg, "xrcore_store_record_errors_total"), "header and cycle")

	_, err = e.Finish(context.Background())
	assert.Error(t, err)
}

func TestEngine_Deterministic(t *testing.T) {
	script := [][]Event{
		nominal(),
		{PowerOn(), SetInput(chTemp, 0x0500)},
		repeat(Trigger(), 6),
		repeat(Tick(), 3),
	}
	a := newTestEngine(t)
	b := newTestEngine(t)
	steps(t, a, script...)
	steps(t, b, script...)

	assert.Equal(t, a.Digests(), b.Digests())
	assert.Equal(t, a.TraceDigest(), b.TraceDigest())
	assert.Equal(t, xr.StateSafe, a.State())
}

func TestEngine_Run_ProcessesQueue(t *testing.T) {
	reports := make(chan Report, 16)
	e := newTestEngine(t, WithObserver(func(r Report, _ error) { reports <- r }))

	for _, ev := range nominal() {
		require.True(t, e.Enqueue(ev))
	}
	require.True(t, e.Enqueue(PowerOn()))
	require.True(t, e.Enqueue(Trigger()))
	e.Stop()

	require.NoError(t, e.Run(context.Background()))
	close(reports)

	var kinds []EventKind
	for r := range reports {
		kinds = append(kinds, r.Event.Kind)
	}
	assert.Equal(t, []EventKind{
		EventSetInput, EventSetInput, EventSetInput, EventSetInput,
		EventCaptureEnable, EventPowerOn, EventTrigger,
	}, kinds)
	assert.Equal(t, xr.StateRun, e.State())
}

func TestEngine_Run_ContinuesAfterEventError(t *testing.T) {
	var errs []error
	e := newTestEngine(t, WithObserver(func(_ Report, err error) { errs = append(errs, err) }))

	e.Enqueue(SetInput(42, 1))
	e.Enqueue(PowerOn())
	e.Stop()
	require.NoError(t, e.Run(context.Background()))

	require.Len(t, errs, 2)
	assert.True(t, IsChannelOutOfRange(errs[0]))
	assert.NoError(t, errs[1])
	assert.Equal(t, xr.StateRun, e.State())
}

func TestEngine_Run_StopsOnContext(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
	assert.False(t, e.Enqueue(Tick()), "queue is closed after cancellation")
}

func TestEngine_Run_Ticks(t *testing.T) {
	ticker := testutil.NewManualTicker(4)
	reports := make(chan Report, 4)
	e := newTestEngine(t,
		WithTicker(ticker),
		WithObserver(func(r Report, _ error) { reports <- r }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	ticker.Fire()
	ticker.Fire()
	for i := 0; i < 2; i++ {
		select {
		case r := <-reports:
			assert.Equal(t, EventTick, r.Event.Kind)
			assert.Equal(t, governor.CauseTick, r.Evaluation.Cause)
		case <-time.After(time.Second):
			t.Fatal("tick not processed")
		}
	}

	e.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngine_Enqueue_AfterStop(t *testing.T) {
	e := newTestEngine(t)
	e.Stop()
	assert.False(t, e.Enqueue(Tick()))
}
