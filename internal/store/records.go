package store

import "github.com/apeichen/fpga-aichip/internal/xr"

// Run is one recorded control-loop session.
type Run struct {
	ID             string
	Label          string
	Channels       []xr.ChannelConfig
	DebounceCycles int
	TripThreshold  uint8
	EngineVersion  string
	RecordVersion  string
	Digest         string
	Finished       bool
}

// Input is one control event as it was fed to the engine. Which fields are
// meaningful depends on Kind.
type Input struct {
	RunID   string
	Cycle   int64
	Kind    string
	Channel int
	Value   uint16
	Flag    bool
	Min     uint16
	Max     uint16
}

// Evaluation is one governor cycle as recorded.
type Evaluation struct {
	RunID      string
	Cycle      int64
	Cause      string
	Captured   bool
	Sample     xr.Sample
	Outputs    xr.Outputs
	Rejected   bool
	Violations []xr.Violation
	Digest     string
}

// RunSummary is a listing row.
type RunSummary struct {
	ID          string
	Label       string
	Inputs      int
	Evaluations int
	FinalState  xr.State
	Digest      string
	Finished    bool
}
