package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apeichen/fpga-aichip/internal/engine"
	"github.com/apeichen/fpga-aichip/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - specific run only
}

// ReplayRunResult holds the replay result for a single run.
type ReplayRunResult struct {
	RunID          string   `json:"run_id"`
	Cycles         int      `json:"cycles"`
	Evaluations    int      `json:"evaluations"`
	RecordedDigest string   `json:"recorded_digest"`
	ReplayedDigest string   `json:"replayed_digest"`
	FinalState     string   `json:"final_state"`
	Deterministic  bool     `json:"deterministic"`
	Mismatches     []string `json:"mismatches,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs             []ReplayRunResult `json:"runs"`
	TotalRuns        int               `json:"total_runs"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded runs and verify determinism",
		Long: `Replay recorded runs through a fresh engine and verify determinism.

Each run's recorded events are fed, cycle by cycle, to a new capture engine
and governor built from the recorded channel table and policy. Every
evaluation's outputs and digest must match the recording, and the replayed
trace digest must equal the sealed one.

Exit codes:
  0 - All runs are deterministic
  1 - Replay diverged from the recording
  2 - Command error (database not found, unknown run, etc.)

Examples:
  xrcore replay --db ./xrcore.db
  xrcore replay --db ./xrcore.db --run 0190a8e2-...
  xrcore replay --db ./xrcore.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "replay specific run only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var runIDs []string
	if opts.RunID != "" {
		runIDs = []string{opts.RunID}
	} else {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		for _, r := range runs {
			runIDs = append(runIDs, r.ID)
		}
	}

	if len(runIDs) == 0 {
		if opts.Format == "json" {
			return outputReplayJSON(cmd, ReplayResult{Runs: []ReplayRunResult{}, AllDeterministic: true})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found in database.")
		return nil
	}

	result := ReplayResult{
		Runs:             make([]ReplayRunResult, 0, len(runIDs)),
		TotalRuns:        len(runIDs),
		AllDeterministic: true,
	}
	for _, id := range runIDs {
		rr, err := replayRun(ctx, st, id)
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				return WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", id), err)
			}
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", id), err)
		}
		result.Runs = append(result.Runs, rr)
		if !rr.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

func replayRun(ctx context.Context, st *store.Store, runID string) (ReplayRunResult, error) {
	res, err := engine.Replay(ctx, st, runID)
	if err != nil {
		return ReplayRunResult{}, err
	}
	rr := ReplayRunResult{
		RunID:          res.RunID,
		Cycles:         res.Cycles,
		Evaluations:    res.Evaluations,
		RecordedDigest: res.RecordedDigest,
		ReplayedDigest: res.ReplayedDigest,
		FinalState:     res.FinalOutputs.State.String(),
		Deterministic:  res.Deterministic(),
	}
	for _, m := range res.Mismatches {
		rr.Mismatches = append(rr.Mismatches, m.String())
	}
	return rr, nil
}

// openExistingStore opens path without creating it; store.Open would
// silently create an empty database for a mistyped path.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path), err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if !result.AllDeterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeDeterminism,
			Message: "replay diverged from the recording",
		}
	}

	if err := writeIndentedJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}
	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "replay diverged from the recording")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d run(s)\n", result.TotalRuns)
	fmt.Fprintln(w)

	for _, run := range result.Runs {
		status := "✓"
		if !run.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Run: %s\n", status, run.RunID)
		fmt.Fprintf(w, "  Cycles: %d, evaluations: %d, final state: %s\n", run.Cycles, run.Evaluations, run.FinalState)
		if verbose || !run.Deterministic {
			fmt.Fprintf(w, "  Recorded digest: %s\n", run.RecordedDigest)
			fmt.Fprintf(w, "  Replayed digest: %s\n", run.ReplayedDigest)
		}
		for _, m := range run.Mismatches {
			fmt.Fprintf(w, "  %s\n", m)
		}
	}

	fmt.Fprintln(w)
	if !result.AllDeterministic {
		fmt.Fprintln(w, "✗ Replay diverged")
		return NewExitError(ExitFailure, "replay diverged from the recording")
	}
	fmt.Fprintln(w, "✓ All runs deterministic")
	return nil
}
