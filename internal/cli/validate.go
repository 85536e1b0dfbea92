package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apeichen/fpga-aichip/internal/config"
	"github.com/apeichen/fpga-aichip/internal/governor"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// ValidationIssue is one problem found by validate.
type ValidationIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ChannelRow describes one resolved channel.
type ChannelRow struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Min           uint16 `json:"min"`
	Max           uint16 `json:"max"`
	UnderSeverity uint8  `json:"under_severity"`
	OverSeverity  uint8  `json:"over_severity"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Source    string            `json:"source"`
	Channels  []ChannelRow      `json:"channels,omitempty"`
	Debounce  int               `json:"debounce_cycles"`
	Threshold int               `json:"trip_threshold"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

func (r ValidationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ %d channel(s) from %s, debounce %d, trip threshold %d\n", len(r.Channels), r.Source, r.Debounce, r.Threshold)
	for _, c := range r.Channels {
		fmt.Fprintf(&b, "  %2d %-10s %-14s [0x%04X, 0x%04X] under=%d over=%d\n",
			c.Index, c.Name, c.Kind, c.Min, c.Max, c.UnderSeverity, c.OverSeverity)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [channels-file]",
		Short: "Validate configuration and channel table",
		Long: `Validate the runtime configuration and the channel table it selects.

With a channels file (.cue, .yaml or .yml) that table is checked instead of
the one named by the configuration. CUE files are unified with the built-in
channel schema, so out-of-range and inverted envelopes are reported with
their position.

Exit codes:
  0 - Configuration and channel table are valid
  1 - Validation failed
  2 - Command error`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 1 {
				file = args[0]
			}
			return runValidate(rootOpts, file, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, channelsFile string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return outputValidationErrors(f, []ValidationIssue{{Code: ErrCodeConfig, Field: "config", Message: err.Error()}})
	}

	result := ValidationResult{
		Source:    channelSource(cfg, channelsFile),
		Debounce:  cfg.Governor.Debounce,
		Threshold: cfg.Governor.Threshold,
	}
	f.VerboseLog("Validating channel table from %s", result.Source)

	var issues []ValidationIssue
	var channels []xr.ChannelConfig
	if channelsFile != "" {
		channels, err = config.LoadChannelsFile(channelsFile)
	} else {
		channels, err = cfg.ResolveChannels()
	}
	if err != nil {
		issues = append(issues, channelIssue(err))
	}
	if err := cfg.Policy().Validate(); err != nil {
		issues = append(issues, ValidationIssue{Code: ErrCodePolicy, Field: "governor.debounce", Message: err.Error()})
	}
	if len(issues) > 0 {
		return outputValidationErrors(f, issues)
	}

	for i, c := range channels {
		result.Channels = append(result.Channels, ChannelRow{
			Index:         i,
			Name:          c.Name,
			Kind:          string(c.Kind),
			Min:           c.Envelope.Min,
			Max:           c.Envelope.Max,
			UnderSeverity: c.Severity(xr.Under),
			OverSeverity:  c.Severity(xr.Over),
		})
	}
	result.Valid = true
	return f.Success(result)
}

func channelSource(cfg *config.Config, file string) string {
	switch {
	case file != "":
		return file
	case cfg.Channels.File != "":
		return cfg.Channels.File
	case len(cfg.Channels.Table) > 0:
		return "channels.table"
	}
	return "preset " + cfg.Channels.Preset
}

func channelIssue(err error) ValidationIssue {
	issue := ValidationIssue{Code: ErrCodeChannels, Field: "channels", Message: err.Error()}
	switch governor.ConfigErrorCodeOf(err) {
	case governor.ErrCodeEnvelopeInverted:
		issue.Code, issue.Field = ErrCodeEnvelope, "channels.envelope"
	case governor.ErrCodeChannelCount:
		issue.Field = "channels.count"
	}
	return issue
}

func outputValidationErrors(f *OutputFormatter, issues []ValidationIssue) error {
	if f.Format == "json" {
		if err := f.Error(issues[0].Code, "validation failed", ValidationResult{Errors: issues}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "✗ validation failed: %d error(s)\n", len(issues))
		for _, is := range issues {
			fmt.Fprintf(f.Writer, "  [%s] %s: %s\n", is.Code, is.Field, is.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed: %d error(s)", len(issues)))
}
