package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/apeichen/fpga-aichip/internal/capture"
	"github.com/apeichen/fpga-aichip/internal/config"
	"github.com/apeichen/fpga-aichip/internal/engine"
	"github.com/apeichen/fpga-aichip/internal/governor"
	"github.com/apeichen/fpga-aichip/internal/store"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// Harness executes one scenario against a real engine backed by an
// in-memory store.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	result *Result
}

// Run executes a scenario and returns the result. Each scenario gets a fresh
// in-memory database and a fixed run id, so traces are reproducible.
//
// A non-nil error means the scenario could not be executed at all; failed
// expectations and assertions are reported in Result.Errors instead.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	channels, err := scenario.channelTable()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	eng, err := engine.New(channels, scenario.policy(),
		engine.WithRunIDGenerator(engine.NewFixedGenerator(scenario.runID())),
		engine.WithRecorder(st),
		engine.WithLabel(scenario.Name))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	h := &Harness{store: st, engine: eng, result: NewResult()}
	h.result.RunID = eng.RunID()

	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step)
	}

	digest, err := eng.Finish(ctx)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	h.result.TraceDigest = digest
	h.result.Final = eng.Outputs()
	h.result.NextSeq = eng.Seq()

	actx := &AssertionContext{Ctx: ctx, Store: st, RunID: eng.RunID()}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (s *Scenario) channelTable() ([]xr.ChannelConfig, error) {
	if len(s.Channels) > 0 {
		return config.ToChannelConfigs(s.Channels)
	}
	return config.Preset(s.presetName())
}

func (s *Scenario) policy() governor.Policy {
	p := governor.DefaultPolicy()
	if s.Policy == nil {
		return p
	}
	if s.Policy.Debounce != 0 {
		p.DebounceCycles = s.Policy.Debounce
	}
	if s.Policy.Threshold != nil {
		p.TripThreshold = uint8(*s.Policy.Threshold)
	}
	return p
}

// events expands a step into engine events.
func (st Step) events() []engine.Event {
	switch {
	case st.Reset:
		return []engine.Event{engine.Reset()}
	case st.CaptureEnable != nil:
		return []engine.Event{engine.CaptureEnable(*st.CaptureEnable)}
	case st.SetADC != nil:
		return []engine.Event{engine.SetInput(*st.SetADC.Channel, uint16(st.SetADC.Value))}
	case st.Trigger > 0:
		return repeatEvent(engine.Trigger(), st.Trigger)
	case st.TriggerEdge != nil:
		ch := capture.Auto
		if st.TriggerEdge.Channel != nil {
			ch = *st.TriggerEdge.Channel
		}
		return []engine.Event{engine.TriggerEdge(ch, uint16(st.TriggerEdge.Value))}
	case st.PowerOn:
		return []engine.Event{engine.PowerOn()}
	case st.Tick > 0:
		return repeatEvent(engine.Tick(), st.Tick)
	case st.Configure != nil:
		c := st.Configure
		return []engine.Event{engine.Configure(c.Channel, xr.Envelope{Min: uint16(c.Min), Max: uint16(c.Max)})}
	}
	return nil
}

func repeatEvent(ev engine.Event, n int) []engine.Event {
	out := make([]engine.Event, n)
	for i := range out {
		out[i] = ev
	}
	return out
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step) {
	var codes []string
	for _, ev := range step.events() {
		rep, err := h.engine.Step(ctx, ev)
		te := traceEvent(rep, err)
		if te.Error != "" {
			codes = append(codes, te.Error)
		}
		h.result.Trace = append(h.result.Trace, te)
	}

	if step.Expect == nil {
		if len(codes) > 0 {
			h.result.AddError(fmt.Sprintf("steps[%d]: unexpected error %s", index, codes[0]))
		}
		return
	}
	for _, msg := range matchExpect(step.Expect, h.engine.Outputs(), h.engine.Seq(), codes) {
		h.result.AddError(fmt.Sprintf("steps[%d]: %s", index, msg))
	}
}

func traceEvent(rep engine.Report, err error) TraceEvent {
	te := TraceEvent{
		Cycle:     rep.Cycle,
		Event:     string(rep.Event.Kind),
		Detail:    rep.Event.String(),
		Captured:  rep.Captured,
		Evaluated: rep.Evaluated,
		State:     rep.Outputs.State,
		Power:     rep.Outputs.PowerEnable,
		Fault:     rep.Outputs.Fault,
		Digest:    rep.Digest,
	}
	if rep.Captured {
		te.Channel = rep.Sample.Channel
		te.Value = rep.Sample.Value
		te.Seq = rep.Sample.Seq
	}
	if rep.Evaluated {
		te.Cause = rep.Evaluation.Cause.String()
		te.Effects = effectNames(rep.Evaluation.Effects)
	}
	if rep.Outputs.ViolationValid {
		te.Violation = rep.Outputs.ViolationCode.String()
	}
	if err != nil {
		var re *engine.RuntimeError
		if errors.As(err, &re) {
			te.Error = string(re.Code)
		} else {
			te.Error = err.Error()
		}
	}
	return te
}

func effectNames(fx governor.Effects) []string {
	var out []string
	for _, e := range []struct {
		on   bool
		name string
	}{
		{fx.Started, "started"},
		{fx.Tripped, "tripped"},
		{fx.Recovered, "recovered"},
		{fx.Rejected, "rejected"},
		{fx.Spurious, "spurious"},
	} {
		if e.on {
			out = append(out, e.name)
		}
	}
	return out
}
