package governor

import "github.com/apeichen/fpga-aichip/internal/xr"

// Inputs are everything the state machine looks at in one cycle.
type Inputs struct {
	PowerOnReq  bool // a power-on request pulse is part of this cycle
	Violation   bool // a trip-worthy violation is active
	OutOfRange  bool // some latched channel is outside its envelope, at any severity
	Armed       bool // the recovery debounce window has elapsed
	ConfigFault bool // the last configuration call was rejected
}

// Effects are the side effects the caller applies after a transition.
type Effects struct {
	PowerEnable bool // power_enable after the transition
	Started     bool // IDLE -> RUN
	Tripped     bool // RUN -> SAFE
	Recovered   bool // SAFE -> RUN
	Rejected    bool // a power-on request was refused
	Spurious    bool // the refused request was a recovery attempt from SAFE
}

// Transition is the supervisory state machine. It is total: every input
// combination yields exactly one next state.
func Transition(cur xr.State, in Inputs) (xr.State, Effects) {
	var fx Effects
	next := cur

	switch cur {
	case xr.StateIdle:
		if in.PowerOnReq {
			if !in.Violation && !in.OutOfRange && !in.ConfigFault {
				next = xr.StateRun
				fx.Started = true
			} else {
				fx.Rejected = true
			}
		}
	case xr.StateRun:
		if in.Violation {
			next = xr.StateSafe
			fx.Tripped = true
		}
	case xr.StateSafe:
		if in.PowerOnReq {
			if in.Armed && !in.Violation && !in.OutOfRange && !in.ConfigFault {
				next = xr.StateRun
				fx.Recovered = true
			} else {
				fx.Rejected = true
				fx.Spurious = true
			}
		}
	default:
		// Unknown codes fall back to the reset state.
		next = xr.StateIdle
	}

	fx.PowerEnable = next == xr.StateRun
	return next, fx
}
