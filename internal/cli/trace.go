package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apeichen/fpga-aichip/internal/engine"
	"github.com/apeichen/fpga-aichip/internal/store"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database   string
	RunID      string
	State      string // optional - only evaluations ending in this state
	Violations bool   // only cycles reporting a violation
}

// TraceEntry is one cycle of the timeline.
type TraceEntry struct {
	Cycle     int64    `json:"cycle"`
	Event     string   `json:"event"`
	Evaluated bool     `json:"evaluated"`
	Cause     string   `json:"cause,omitempty"`
	Sample    string   `json:"sample,omitempty"`
	State     string   `json:"state,omitempty"`
	Power     bool     `json:"power_enable"`
	Fault     bool     `json:"fault"`
	Violation string   `json:"violation,omitempty"`
	Rejected  bool     `json:"rejected,omitempty"`
	Detected  []string `json:"detected,omitempty"`
}

// TraceStats holds summary statistics for the run.
type TraceStats struct {
	Inputs      int            `json:"inputs"`
	Evaluations int            `json:"evaluations"`
	Trips       int            `json:"trips"`
	Recoveries  int            `json:"recoveries"`
	ByState     map[string]int `json:"by_state"`
	Finished    bool           `json:"finished"`
	Digest      string         `json:"digest,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID    string       `json:"run_id"`
	Label    string       `json:"label,omitempty"`
	Channels []string     `json:"channels"`
	Timeline []TraceEntry `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded timeline of a run",
		Long: `Show what happened in a recorded run, cycle by cycle.

Each line pairs the event applied in a cycle with the governor evaluation it
produced, if any: the captured sample, the resulting state, the power and
fault outputs, and the reported violation.

Examples:
  xrcore trace --db ./xrcore.db --run 0190a8e2-...
  xrcore trace --db ./xrcore.db --run 0190a8e2-... --state SAFE
  xrcore trace --db ./xrcore.db --run 0190a8e2-... --violations --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to trace (required)")
	_ = cmd.MarkFlagRequired("run")
	cmd.Flags().StringVar(&opts.State, "state", "", "only cycles whose evaluation ends in this state (IDLE, RUN, SAFE)")
	cmd.Flags().BoolVar(&opts.Violations, "violations", false, "only cycles that report a violation")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	var stateFilter xr.State
	if opts.State != "" {
		s, err := xr.ParseState(opts.State)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --state", err)
		}
		stateFilter = s
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.ReadRun(ctx, opts.RunID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", opts.RunID), err)
		}
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	inputs, err := st.ReadInputs(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read inputs", err)
	}
	evals, err := st.ReadEvaluations(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read evaluations", err)
	}
	byState, err := st.CountByState(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count states", err)
	}

	full := buildTimeline(inputs, evals)

	result := TraceResult{
		RunID:    run.ID,
		Label:    run.Label,
		Channels: channelNames(run.Channels),
		Timeline: filterTimeline(full, stateFilter, opts.Violations),
		Stats: TraceStats{
			Inputs:      len(inputs),
			Evaluations: len(evals),
			ByState:     map[string]int{},
			Finished:    run.Finished,
			Digest:      run.Digest,
		},
	}
	result.Stats.Trips, result.Stats.Recoveries = countTransitions(evals)
	for s, n := range byState {
		result.Stats.ByState[s.String()] = n
	}

	if opts.Format == "json" {
		return writeIndentedJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

// buildTimeline pairs each recorded input with the evaluation of its cycle.
func buildTimeline(inputs []store.Input, evals []store.Evaluation) []TraceEntry {
	byCycle := make(map[int64]store.Evaluation, len(evals))
	for _, ev := range evals {
		byCycle[ev.Cycle] = ev
	}

	timeline := make([]TraceEntry, 0, len(inputs))
	for _, in := range inputs {
		entry := TraceEntry{Cycle: in.Cycle, Event: describeInput(in)}
		if ev, ok := byCycle[in.Cycle]; ok {
			entry.Evaluated = true
			entry.Cause = ev.Cause
			if ev.Captured {
				entry.Sample = fmt.Sprintf("ch%d=0x%04X #%d", ev.Sample.Channel, ev.Sample.Value, ev.Sample.Seq)
			}
			entry.State = ev.Outputs.State.String()
			entry.Power = ev.Outputs.PowerEnable
			entry.Fault = ev.Outputs.Fault
			if ev.Outputs.ViolationValid {
				entry.Violation = ev.Outputs.ViolationCode.String()
			}
			entry.Rejected = ev.Rejected
			for _, v := range ev.Violations {
				entry.Detected = append(entry.Detected, v.String())
			}
		}
		timeline = append(timeline, entry)
	}
	return timeline
}

func describeInput(in store.Input) string {
	ev, err := engine.EventFromInput(in)
	if err != nil {
		return in.Kind
	}
	return ev.String()
}

func filterTimeline(timeline []TraceEntry, state xr.State, violationsOnly bool) []TraceEntry {
	out := make([]TraceEntry, 0, len(timeline))
	for _, e := range timeline {
		if state != 0 && (!e.Evaluated || e.State != state.String()) {
			continue
		}
		if violationsOnly && e.Violation == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// countTransitions counts entries into SAFE and SAFE to RUN recoveries.
func countTransitions(evals []store.Evaluation) (trips, recoveries int) {
	prev := xr.StateIdle
	for _, ev := range evals {
		next := ev.Outputs.State
		switch {
		case next == xr.StateSafe && prev != xr.StateSafe:
			trips++
		case prev == xr.StateSafe && next == xr.StateRun:
			recoveries++
		}
		prev = next
	}
	return trips, recoveries
}

func channelNames(channels []xr.ChannelConfig) []string {
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = c.Name
	}
	return names
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for Run: %s", result.RunID)
	if result.Label != "" {
		fmt.Fprintf(w, " (%s)", result.Label)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Channels: %s\n", strings.Join(result.Channels, ", "))
	fmt.Fprintf(w, "Status: %s\n", finishedStatus(result.Stats.Finished))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no cycles)")
	}
	for _, e := range result.Timeline {
		formatTraceEntry(w, e, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Inputs:      %d\n", result.Stats.Inputs)
	fmt.Fprintf(w, "  Evaluations: %d\n", result.Stats.Evaluations)
	fmt.Fprintf(w, "  Trips:       %d\n", result.Stats.Trips)
	fmt.Fprintf(w, "  Recoveries:  %d\n", result.Stats.Recoveries)
	for _, s := range []xr.State{xr.StateIdle, xr.StateRun, xr.StateSafe} {
		if n, ok := result.Stats.ByState[s.String()]; ok {
			fmt.Fprintf(w, "  In %-5s %d\n", s.String()+":", n)
		}
	}
	if result.Stats.Digest != "" {
		fmt.Fprintf(w, "  Digest:      %s\n", result.Stats.Digest)
	}
	return nil
}

func formatTraceEntry(w io.Writer, e TraceEntry, verbose bool) {
	if !e.Evaluated {
		fmt.Fprintf(w, "  [%d] %s\n", e.Cycle, e.Event)
		return
	}
	line := fmt.Sprintf("  [%d] %s -> %s", e.Cycle, e.Event, e.State)
	if e.Sample != "" {
		line += " " + e.Sample
	}
	if e.Power {
		line += " power"
	}
	if e.Violation != "" {
		line += " " + e.Violation
	}
	if e.Rejected {
		line += " (rejected)"
	}
	fmt.Fprintln(w, line)
	if verbose {
		fmt.Fprintf(w, "       cause: %s\n", e.Cause)
		for _, d := range e.Detected {
			fmt.Fprintf(w, "       detected: %s\n", d)
		}
	}
}

func finishedStatus(finished bool) string {
	if finished {
		return "Sealed"
	}
	return "Open (not finished)"
}
