package engine

// Replay
//
// A recorded run is its channel table, its policy and the ordered list of
// events it received. The governor and capture engine are pure functions of
// that list, so stepping a fresh engine through the same events must yield
// the same outputs on every cycle, and therefore the same evaluation digests
// and the same trace digest.
//
// Triggers are the one input that reaches outside the event list: the value
// comes from the attached source. The recorder stores the value that was
// actually captured, and replay feeds it back as an explicit round-robin edge.
// Uncaptured triggers (capture disabled) never read a value that matters.
//
// Rejected events are replayed too. A rejected configure leaves a pending
// config fault, which changes later evaluations, so skipping it would diverge.

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/apeichen/fpga-aichip/internal/capture"
	"github.com/apeichen/fpga-aichip/internal/governor"
	"github.com/apeichen/fpga-aichip/internal/store"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// RunReader reads back recorded runs. *store.Store implements it.
type RunReader interface {
	ReadRun(ctx context.Context, runID string) (store.Run, error)
	ReadInputs(ctx context.Context, runID string) ([]store.Input, error)
	ReadEvaluations(ctx context.Context, runID string) ([]store.Evaluation, error)
}

// Mismatch is one difference between a recording and its replay.
type Mismatch struct {
	Cycle    int64
	Field    string
	Recorded string
	Replayed string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("cycle %d: %s recorded=%s replayed=%s", m.Cycle, m.Field, m.Recorded, m.Replayed)
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	RunID          string
	Cycles         int
	Evaluations    int
	Mismatches     []Mismatch
	RecordedDigest string // empty if the run was never finished
	ReplayedDigest string
	FinalOutputs   xr.Outputs
}

// Deterministic reports whether the replay reproduced the recording.
func (r *ReplayResult) Deterministic() bool {
	if len(r.Mismatches) > 0 {
		return false
	}
	return r.RecordedDigest == "" || r.RecordedDigest == r.ReplayedDigest
}

// Replay re-executes a recorded run on a fresh engine and compares every
// evaluation against the recording. Extra options (metrics, a publisher) are
// applied to the replay engine; recording is never enabled.
func Replay(ctx context.Context, r RunReader, runID string, opts ...Option) (*ReplayResult, error) {
	run, err := r.ReadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	inputs, err := r.ReadInputs(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	recorded, err := r.ReadEvaluations(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}

	var start int64
	if len(inputs) > 0 {
		start = inputs[0].Cycle - 1
	}
	policy := governor.Policy{DebounceCycles: run.DebounceCycles, TripThreshold: run.TripThreshold}
	opts = append(opts,
		WithRunIDGenerator(NewFixedGenerator(run.ID)),
		WithClock(NewClockAt(start)),
		WithRecorder(nil))
	e, err := New(run.Channels, policy, opts...)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}

	byCycle := make(map[int64]store.Evaluation, len(recorded))
	for _, ev := range recorded {
		byCycle[ev.Cycle] = ev
	}

	res := &ReplayResult{RunID: run.ID, RecordedDigest: run.Digest}
	for _, in := range inputs {
		ev, err := EventFromInput(in)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", runID, err)
		}
		if ev.Kind == EventTrigger {
			ev = TriggerEdge(capture.Auto, in.Value)
		}
		if want := e.Clock().Current() + 1; in.Cycle != want {
			return nil, fmt.Errorf("replay %s: input at cycle %d, expected %d", runID, in.Cycle, want)
		}

		rep, _ := e.Step(ctx, ev)
		res.Cycles++
		res.Mismatches = append(res.Mismatches, compareCycle(rep, byCycle)...)
		if rep.Evaluated {
			res.Evaluations++
		}
		delete(byCycle, rep.Cycle)
	}
	for cycle := range byCycle {
		res.Mismatches = append(res.Mismatches, Mismatch{
			Cycle: cycle, Field: "evaluation", Recorded: "present", Replayed: "absent",
		})
	}
	sortMismatches(res.Mismatches)

	res.ReplayedDigest = e.TraceDigest()
	res.FinalOutputs = e.Outputs()

	if !res.Deterministic() {
		slog.Warn("replay diverged", "run", run.ID, "mismatches", len(res.Mismatches),
			"recorded_digest", res.RecordedDigest, "replayed_digest", res.ReplayedDigest)
	}
	return res, nil
}

func compareCycle(rep Report, recorded map[int64]store.Evaluation) []Mismatch {
	want, ok := recorded[rep.Cycle]
	switch {
	case !ok && !rep.Evaluated:
		return nil
	case !ok:
		return []Mismatch{{Cycle: rep.Cycle, Field: "evaluation", Recorded: "absent", Replayed: "present"}}
	case !rep.Evaluated:
		return []Mismatch{{Cycle: rep.Cycle, Field: "evaluation", Recorded: "present", Replayed: "absent"}}
	}

	var out []Mismatch
	if want.Outputs != rep.Outputs {
		out = append(out, Mismatch{
			Cycle:    rep.Cycle,
			Field:    "outputs",
			Recorded: fmt.Sprintf("%+v", want.Outputs),
			Replayed: fmt.Sprintf("%+v", rep.Outputs),
		})
	}
	if want.Digest != rep.Digest {
		out = append(out, Mismatch{Cycle: rep.Cycle, Field: "digest", Recorded: want.Digest, Replayed: rep.Digest})
	}
	return out
}

func sortMismatches(ms []Mismatch) {
	slices.SortStableFunc(ms, func(a, b Mismatch) int {
		return cmp.Compare(a.Cycle, b.Cycle)
	})
}
