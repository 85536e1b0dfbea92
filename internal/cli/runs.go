package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
}

// RunListing is one row of the runs listing.
type RunListing struct {
	RunID       string `json:"run_id"`
	Label       string `json:"label,omitempty"`
	Inputs      int    `json:"inputs"`
	Evaluations int    `json:"evaluations"`
	FinalState  string `json:"final_state"`
	Finished    bool   `json:"finished"`
	Digest      string `json:"digest,omitempty"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Long: `List every run recorded in a database with its size and final state.

Examples:
  xrcore runs --db ./xrcore.db
  xrcore runs --db ./xrcore.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runList(opts *RunsOptions, cmd *cobra.Command) error {
	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	listing := make([]RunListing, 0, len(runs))
	for _, r := range runs {
		listing = append(listing, RunListing{
			RunID:       r.ID,
			Label:       r.Label,
			Inputs:      r.Inputs,
			Evaluations: r.Evaluations,
			FinalState:  r.FinalState.String(),
			Finished:    r.Finished,
			Digest:      r.Digest,
		})
	}

	if opts.Format == "json" {
		return writeIndentedJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: listing})
	}

	w := cmd.OutOrStdout()
	if len(listing) == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return nil
	}
	fmt.Fprintf(w, "%-38s %-12s %7s %7s %-5s %s\n", "RUN", "LABEL", "INPUTS", "EVALS", "STATE", "SEALED")
	for _, r := range listing {
		sealed := "no"
		if r.Finished {
			sealed = "yes"
		}
		fmt.Fprintf(w, "%-38s %-12s %7d %7d %-5s %s\n", r.RunID, r.Label, r.Inputs, r.Evaluations, r.FinalState, sealed)
	}
	return nil
}
