package harness

import "github.com/apeichen/fpga-aichip/internal/xr"

// TraceEvent is one engine cycle as seen by the harness.
type TraceEvent struct {
	Cycle     int64    `json:"cycle"`
	Event     string   `json:"event"` // event kind
	Detail    string   `json:"detail"`
	Captured  bool     `json:"captured"`
	Channel   int      `json:"channel,omitempty"`
	Value     uint16   `json:"value,omitempty"`
	Seq       uint32   `json:"seq,omitempty"`
	Evaluated bool     `json:"evaluated"`
	Cause     string   `json:"cause,omitempty"`
	State     xr.State `json:"state"`
	Power     bool     `json:"power_enable"`
	Fault     bool     `json:"fault"`
	Violation string   `json:"violation,omitempty"`
	Effects   []string `json:"effects,omitempty"`
	Error     string   `json:"error,omitempty"` // runtime error code
	Digest    string   `json:"digest,omitempty"`
}

// HasEffect reports whether the cycle had the named effect.
func (e TraceEvent) HasEffect(name string) bool {
	for _, fx := range e.Effects {
		if fx == name {
			return true
		}
	}
	return false
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one entry per engine cycle.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Final is the governor output after the last step.
	Final xr.Outputs `json:"final"`

	// NextSeq is the capture sequence number the next sample would get.
	NextSeq uint32 `json:"next_seq"`

	RunID       string `json:"run_id"`
	TraceDigest string `json:"trace_digest"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
