package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/apeichen/fpga-aichip/internal/xr"
)

// TraceSnapshot is the golden form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	RunID        string       `json:"run_id"`
	TraceDigest  string       `json:"trace_digest"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot into the value shapes accepted by
// xr.MarshalCanonical.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"cycle":        ev.Cycle,
			"event":        ev.Event,
			"detail":       ev.Detail,
			"evaluated":    ev.Evaluated,
			"state":        ev.State.String(),
			"power_enable": ev.Power,
			"fault":        ev.Fault,
		}
		if ev.Captured {
			m["sample"] = map[string]any{
				"channel": ev.Channel,
				"value":   ev.Value,
				"seq":     ev.Seq,
			}
		}
		if ev.Cause != "" {
			m["cause"] = ev.Cause
		}
		if ev.Violation != "" {
			m["violation"] = ev.Violation
		}
		if len(ev.Effects) > 0 {
			fx := make([]any, len(ev.Effects))
			for j, e := range ev.Effects {
				fx[j] = e
			}
			m["effects"] = fx
		}
		if ev.Error != "" {
			m["error"] = ev.Error
		}
		if ev.Digest != "" {
			m["digest"] = ev.Digest
		}
		trace[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"run_id":        s.RunID,
		"trace_digest":  s.TraceDigest,
		"trace":         trace,
	}
}

// MarshalSnapshot renders a result as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snap := TraceSnapshot{
		ScenarioName: name,
		RunID:        result.RunID,
		TraceDigest:  result.TraceDigest,
		Trace:        result.Trace,
	}
	return xr.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	traceJSON, err := MarshalSnapshot(name, result)
	if err != nil {
		return err
	}

	opts = append([]goldie.Option{
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	}, opts...)
	g := goldie.New(t, opts...)
	g.Assert(t, name, traceJSON)
	return nil
}
