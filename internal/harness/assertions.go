package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/apeichen/fpga-aichip/internal/engine"
	"github.com/apeichen/fpga-aichip/internal/store"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// AssertionError is returned when an assertion fails. It carries the trace
// so a failure can be read without re-running the scenario.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %-28s %s", ev.Cycle, ev.Detail, ev.State)
			if ev.Violation != "" {
				fmt.Fprintf(&buf, " %s", ev.Violation)
			}
			if len(ev.Effects) > 0 {
				fmt.Fprintf(&buf, " %v", ev.Effects)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the recording.
type AssertionContext struct {
	Ctx   context.Context
	Store *store.Store
	RunID string
}

// EvaluateAssertions evaluates all assertions against the result and returns
// one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertSeqContiguous:
			err = assertSeqContiguous(result.Trace)
		case AssertFinalState:
			err = assertFinalState(result, assertion, actx)
		case AssertReplay:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: replay requires a recording", i)
			} else {
				err = assertReplay(actx, result)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// matches applies the trace filters of a.
func (a Assertion) matches(ev TraceEvent) bool {
	if a.Event != "" && ev.Event != a.Event {
		return false
	}
	if a.Cause != "" && ev.Cause != a.Cause {
		return false
	}
	if a.State != "" {
		want, err := xr.ParseState(a.State)
		if err != nil || !ev.Evaluated || ev.State != want {
			return false
		}
	}
	if a.Effect != "" && !ev.HasEffect(a.Effect) {
		return false
	}
	return true
}

func (a Assertion) describe() string {
	var parts []string
	for _, kv := range [][2]string{{"event", a.Event}, {"cause", a.Cause}, {"state", a.State}, {"effect", a.Effect}} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	if len(parts) == 0 {
		return "any cycle"
	}
	return strings.Join(parts, " ")
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if a.matches(ev) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.describe(),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if a.matches(ev) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d cycles with %s", a.Count, a.describe()),
			Actual:   fmt.Sprintf("%d cycles", count),
			Trace:    trace,
		}
	}
	return nil
}

// visitedStates collapses the evaluated trace into the sequence of distinct
// states, starting from IDLE.
func visitedStates(trace []TraceEvent) []xr.State {
	states := []xr.State{xr.StateIdle}
	for _, ev := range trace {
		if !ev.Evaluated {
			continue
		}
		if ev.State != states[len(states)-1] {
			states = append(states, ev.State)
		}
	}
	return states
}

// assertTraceOrder checks that the listed states were visited in order.
// Other states may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	visited := visitedStates(trace)
	i := 0
	for _, s := range visited {
		if i == len(a.States) {
			break
		}
		want, _ := xr.ParseState(a.States[i])
		if s == want {
			i++
		}
	}
	if i < len(a.States) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("states in order: %v", a.States),
			Actual:   fmt.Sprintf("visited %v", visited),
			Trace:    trace,
		}
	}
	return nil
}

// assertSeqContiguous checks that accepted samples are numbered 0,1,2...
// with no gaps. A reset restarts the numbering.
func assertSeqContiguous(trace []TraceEvent) error {
	var next uint32
	for _, ev := range trace {
		if ev.Event == string(engine.EventReset) {
			next = 0
			continue
		}
		if !ev.Captured {
			continue
		}
		if ev.Seq != next {
			return &AssertionError{
				Type:     AssertSeqContiguous,
				Expected: fmt.Sprintf("seq %d at cycle %d", next, ev.Cycle),
				Actual:   fmt.Sprintf("seq %d", ev.Seq),
				Trace:    trace,
			}
		}
		next++
	}
	return nil
}

// assertFinalState matches the final outputs, and the last recorded
// evaluation when a recording is available.
func assertFinalState(result *Result, a Assertion, actx *AssertionContext) error {
	if msgs := matchExpect(a.Expect, result.Final, result.NextSeq, nil); len(msgs) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: "final outputs match",
			Actual:   strings.Join(msgs, "; "),
			Trace:    result.Trace,
		}
	}
	if actx == nil || actx.Store == nil {
		return nil
	}

	evals, err := actx.Store.ReadEvaluations(actx.Ctx, actx.RunID)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}
	if len(evals) == 0 {
		return nil
	}
	if last := evals[len(evals)-1]; last.Outputs != result.Final {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("recorded outputs %+v", result.Final),
			Actual:   fmt.Sprintf("%+v at cycle %d", last.Outputs, last.Cycle),
		}
	}
	return nil
}

func assertReplay(actx *AssertionContext, result *Result) error {
	res, err := engine.Replay(actx.Ctx, actx.Store, actx.RunID)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if !res.Deterministic() {
		var actual []string
		for _, m := range res.Mismatches {
			actual = append(actual, m.String())
		}
		if len(actual) == 0 {
			actual = append(actual, "trace digest "+res.ReplayedDigest)
		}
		return &AssertionError{
			Type:     AssertReplay,
			Expected: "replay reproduces trace digest " + result.TraceDigest,
			Actual:   strings.Join(actual, "; "),
		}
	}
	return nil
}

// matchExpect compares the subset of outputs named in e. seq is only checked
// when e.Seq is set; codes are the runtime error codes the step produced.
func matchExpect(e *Expect, out xr.Outputs, seq uint32, codes []string) []string {
	var msgs []string
	mismatch := func(field string, want, got any) {
		msgs = append(msgs, fmt.Sprintf("%s: expected %v, got %v", field, want, got))
	}

	if e.State != "" {
		want, _ := xr.ParseState(e.State)
		if out.State != want {
			mismatch("state", want, out.State)
		}
	}
	for _, b := range []struct {
		name string
		want *bool
		got  bool
	}{
		{"power_enable", e.PowerEnable, out.PowerEnable},
		{"fault", e.Fault, out.Fault},
		{"safe", e.Safe, out.Safe},
		{"violation_valid", e.ViolationValid, out.ViolationValid},
		{"armed", e.Armed, out.Armed},
		{"sample_valid", e.SampleValid, out.SampleValid},
	} {
		if b.want != nil && *b.want != b.got {
			mismatch(b.name, *b.want, b.got)
		}
	}
	if e.Violation != "" {
		want, _ := xr.ParseViolationCode(e.Violation)
		got := xr.ViolationCode(0)
		if out.ViolationValid {
			got = out.ViolationCode
		}
		if got != want {
			mismatch("violation", want, got)
		}
	}
	if e.Seq != nil && uint32(*e.Seq) != seq {
		mismatch("seq", *e.Seq, seq)
	}

	switch {
	case e.Error == "" && len(codes) > 0:
		msgs = append(msgs, fmt.Sprintf("unexpected error %s", codes[0]))
	case e.Error != "" && !slices.Contains(codes, e.Error):
		mismatch("error", e.Error, codes)
	}
	return msgs
}
