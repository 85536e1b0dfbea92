package xr

import "fmt"

// State is the supervisory state code. The numeric values are part of the
// external contract and must not be renumbered.
type State uint8

const (
	StateIdle State = 1
	StateRun  State = 2
	StateSafe State = 4
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRun:
		return "RUN"
	case StateSafe:
		return "SAFE"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the three defined codes.
func (s State) Valid() bool {
	return s == StateIdle || s == StateRun || s == StateSafe
}

// ParseState accepts either a state name ("RUN") or its literal code ("2").
func ParseState(raw string) (State, error) {
	switch raw {
	case "IDLE", "idle", "1":
		return StateIdle, nil
	case "RUN", "run", "2":
		return StateRun, nil
	case "SAFE", "safe", "4":
		return StateSafe, nil
	}
	return 0, fmt.Errorf("unknown supervisor state %q", raw)
}
