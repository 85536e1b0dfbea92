package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/apeichen/fpga-aichip/internal/config"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// Scenario is a scripted bench session: a channel table, a policy, a list of
// stimulus steps and assertions over the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Preset selects a built-in channel table ("four" or "twelve").
	// Ignored when Channels is set. Defaults to "four".
	Preset string `yaml:"preset,omitempty"`

	// Channels is an inline channel table.
	Channels []config.ChannelSpec `yaml:"channels,omitempty"`

	// Policy overrides the governor defaults.
	Policy *PolicySpec `yaml:"policy,omitempty"`

	// Steps are applied in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and outputs.
	Assertions []Assertion `yaml:"assertions"`

	// RunID is an optional fixed run id. Defaults to "test-run-default" so
	// golden traces are stable.
	RunID string `yaml:"run_id,omitempty"`
}

// PolicySpec overrides governor.Policy fields. Zero values keep defaults.
type PolicySpec struct {
	Debounce  int  `yaml:"debounce,omitempty"`
	Threshold *int `yaml:"threshold,omitempty"`
}

// Step is one stimulus. Exactly one action field must be set.
type Step struct {
	Reset         bool          `yaml:"reset,omitempty"`
	CaptureEnable *bool         `yaml:"capture_enable,omitempty"`
	SetADC        *ChannelValue `yaml:"set_adc,omitempty"`
	Trigger       int           `yaml:"trigger,omitempty"` // number of pulses
	TriggerEdge   *ChannelValue `yaml:"trigger_edge,omitempty"`
	PowerOn       bool          `yaml:"power_on,omitempty"`
	Tick          int           `yaml:"tick,omitempty"` // number of idle cycles
	Configure     *EnvelopeSpec `yaml:"configure,omitempty"`

	// Expect is checked after the step (after the last repetition for
	// trigger and tick counts).
	Expect *Expect `yaml:"expect,omitempty"`
}

// ChannelValue addresses one channel. A nil Channel on trigger_edge means
// round-robin.
type ChannelValue struct {
	Channel *int `yaml:"channel,omitempty"`
	Value   int  `yaml:"value"`
}

// EnvelopeSpec is a configure payload.
type EnvelopeSpec struct {
	Channel int `yaml:"channel"`
	Min     int `yaml:"min"`
	Max     int `yaml:"max"`
}

// Expect is a subset match over the governor outputs. Only set fields are
// checked.
type Expect struct {
	State          string `yaml:"state,omitempty"`
	PowerEnable    *bool  `yaml:"power_enable,omitempty"`
	Fault          *bool  `yaml:"fault,omitempty"`
	Safe           *bool  `yaml:"safe,omitempty"`
	ViolationValid *bool  `yaml:"violation_valid,omitempty"`
	Violation      string `yaml:"violation,omitempty"` // e.g. OVER_CURRENT@ch2, or "none"
	Armed          *bool  `yaml:"armed,omitempty"`
	SampleValid    *bool  `yaml:"sample_valid,omitempty"`
	Seq            *int   `yaml:"seq,omitempty"` // next capture sequence number

	// Error is the runtime error code the step must fail with.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or final outputs.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event, Cause, State and Effect filter trace entries (trace_contains,
	// trace_count). Empty filters match everything.
	Event  string `yaml:"event,omitempty"`
	Cause  string `yaml:"cause,omitempty"`
	State  string `yaml:"state,omitempty"`
	Effect string `yaml:"effect,omitempty"`

	// Count is the expected number of matches (trace_count).
	Count int `yaml:"count,omitempty"`

	// States is the expected order of visited states (trace_order).
	States []string `yaml:"states,omitempty"`

	// Expect is matched against the final outputs (final_state).
	Expect *Expect `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertSeqContiguous = "seq_contiguous"
	AssertReplay        = "replay"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Channels) == 0 {
		if _, err := config.Preset(s.presetName()); err != nil {
			return err
		}
	}
	if s.Policy != nil && s.Policy.Threshold != nil {
		if t := *s.Policy.Threshold; t < 0 || t > 255 {
			return fmt.Errorf("policy.threshold %d outside 0..255", t)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// defaultRunID keeps golden traces stable for scenarios without run_id.
const defaultRunID = "test-run-default"

func (s *Scenario) runID() string {
	if s.RunID == "" {
		return defaultRunID
	}
	return s.RunID
}

func (s *Scenario) presetName() string {
	if s.Preset == "" {
		return config.PresetFour
	}
	return s.Preset
}

func validateStep(index int, st *Step) error {
	n := 0
	if st.Reset {
		n++
	}
	if st.CaptureEnable != nil {
		n++
	}
	if st.SetADC != nil {
		n++
		if st.SetADC.Channel == nil {
			return fmt.Errorf("steps[%d]: set_adc needs a channel", index)
		}
		if err := check16(index, "set_adc.value", st.SetADC.Value); err != nil {
			return err
		}
	}
	if st.Trigger != 0 {
		n++
		if st.Trigger < 0 {
			return fmt.Errorf("steps[%d]: trigger count must be positive", index)
		}
	}
	if st.TriggerEdge != nil {
		n++
		if err := check16(index, "trigger_edge.value", st.TriggerEdge.Value); err != nil {
			return err
		}
	}
	if st.PowerOn {
		n++
	}
	if st.Tick != 0 {
		n++
		if st.Tick < 0 {
			return fmt.Errorf("steps[%d]: tick count must be positive", index)
		}
	}
	if st.Configure != nil {
		n++
		if err := check16(index, "configure.min", st.Configure.Min); err != nil {
			return err
		}
		if err := check16(index, "configure.max", st.Configure.Max); err != nil {
			return err
		}
	}
	switch n {
	case 0:
		return fmt.Errorf("steps[%d]: no action", index)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: exactly one action per step, got %d", index, n)
	}
	if st.Expect != nil {
		if err := validateExpect(fmt.Sprintf("steps[%d].expect", index), st.Expect); err != nil {
			return err
		}
	}
	return nil
}

func check16(index int, field string, v int) error {
	if v < 0 || v > 0xFFFF {
		return fmt.Errorf("steps[%d]: %s %d outside 16-bit range", index, field, v)
	}
	return nil
}

func validateExpect(where string, e *Expect) error {
	if e.State != "" {
		if _, err := xr.ParseState(e.State); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	}
	if e.Violation != "" && e.Violation != "none" {
		if _, err := xr.ParseViolationCode(e.Violation); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" && a.Cause == "" && a.State == "" && a.Effect == "" {
			return fmt.Errorf("assertions[%d]: trace_contains needs at least one filter", index)
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states list is required for trace_order", index)
		}
		for _, s := range a.States {
			if _, err := xr.ParseState(s); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertFinalState:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
		if a.Expect.Error != "" {
			return fmt.Errorf("assertions[%d]: error can only be expected on a step", index)
		}
		return validateExpect(fmt.Sprintf("assertions[%d].expect", index), a.Expect)
	case AssertSeqContiguous, AssertReplay:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.State != "" {
		if _, err := xr.ParseState(a.State); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	}
	return nil
}
