package governor

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/apeichen/fpga-aichip/internal/xr"
)

// Cause is what started an evaluation cycle.
type Cause uint8

const (
	CauseSample Cause = iota + 1
	CauseTick
	CauseRequest
	CauseReset
)

func (c Cause) String() string {
	switch c {
	case CauseSample:
		return "sample"
	case CauseTick:
		return "tick"
	case CauseRequest:
		return "request"
	case CauseReset:
		return "reset"
	default:
		return fmt.Sprintf("Cause(%d)", uint8(c))
	}
}

// Evaluation is the full result of one cycle.
type Evaluation struct {
	Cause      Cause
	Sample     xr.Sample
	HasSample  bool
	Prev       xr.State
	Next       xr.State
	Violations []xr.Violation
	Reported   xr.Violation
	Violating  bool // Reported is set
	Trip       bool // Reported exceeds the trip threshold
	Effects    Effects
	Committed  int // staged envelope changes applied at the start of the cycle
	Outputs    xr.Outputs
}

// Governor owns the envelope table and the supervisory state.
//
// Not safe for concurrent use; the engine loop is the single writer.
type Governor struct {
	policy  Policy
	table   []xr.ChannelConfig
	staged  map[int]xr.Envelope
	pending map[int]*ConfigError // keyed by channel; anyChannel for index faults

	latched []uint16
	have    []bool
	last    xr.Sample
	hasLast bool

	state     xr.State
	trip      xr.Violation
	refreshed bool
	debounce  int

	out  xr.Outputs
	eval Evaluation
}

// New validates the channel table and policy and returns a governor in IDLE.
// The table is copied.
func New(channels []xr.ChannelConfig, policy Policy) (*Governor, error) {
	if err := ValidateChannels(channels); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	table := make([]xr.ChannelConfig, len(channels))
	copy(table, channels)

	g := &Governor{
		policy:  policy,
		table:   table,
		staged:  make(map[int]xr.Envelope),
		pending: make(map[int]*ConfigError),
		latched: make([]uint16, len(table)),
		have:    make([]bool, len(table)),
	}
	g.Reset()
	return g, nil
}

// anyChannel keys index faults, which name no channel that could be fixed.
const anyChannel = -1

// Configure stages a new envelope for a channel. It takes effect at the start
// of the next evaluation cycle.
//
// A rejected call records a pending configuration fault that blocks entry
// into RUN. An inverted envelope stays pending until that channel is
// configured successfully. An out-of-range index is cleared by any later
// successful call.
func (g *Governor) Configure(channel int, env xr.Envelope) error {
	if channel < 0 || channel >= len(g.table) {
		err := newChannelRangeError(channel, len(g.table))
		g.pending[anyChannel] = err
		slog.Warn("configuration rejected", "channel", channel, "code", err.Code)
		return err
	}
	if env.Inverted() {
		err := newInvertedError(channel, env.Min, env.Max)
		g.pending[channel] = err
		slog.Warn("configuration rejected", "channel", channel, "code", err.Code)
		return err
	}
	g.staged[channel] = env
	delete(g.pending, channel)
	delete(g.pending, anyChannel)
	slog.Debug("envelope staged", "channel", channel, "envelope", env.String(), "pending_faults", len(g.pending))
	return nil
}

// PendingConfigError returns the outstanding configuration fault with the
// lowest key, if any.
func (g *Governor) PendingConfigError() error {
	if len(g.pending) == 0 {
		return nil
	}
	keys := slices.Sorted(maps.Keys(g.pending))
	return g.pending[keys[0]]
}

// Consume implements capture.Consumer: one evaluation per accepted sample.
func (g *Governor) Consume(s xr.Sample) {
	g.cycle(CauseSample, &s)
}

// Evaluate runs a sample-driven cycle and returns its result.
func (g *Governor) Evaluate(s xr.Sample) Evaluation {
	return g.cycle(CauseSample, &s)
}

// Tick runs a cycle with no new sample.
func (g *Governor) Tick() Evaluation {
	return g.cycle(CauseTick, nil)
}

// RequestPower runs a cycle carrying a power-on request pulse.
func (g *Governor) RequestPower() Evaluation {
	return g.cycle(CauseRequest, nil)
}

// Reset returns to IDLE and clears latched samples, the trip latch and the
// debounce counter. The envelope table, staged changes and any pending
// configuration fault survive a reset.
func (g *Governor) Reset() Evaluation {
	prev := g.state
	for i := range g.latched {
		g.latched[i] = 0
		g.have[i] = false
	}
	g.last = xr.Sample{}
	g.hasLast = false
	g.state = xr.StateIdle
	g.trip = xr.Violation{}
	g.refreshed = false
	g.debounce = 0
	g.out = xr.IdleOutputs()
	g.eval = Evaluation{Cause: CauseReset, Prev: prev, Next: xr.StateIdle, Outputs: g.out}
	return g.eval
}

// State returns the current supervisory state.
func (g *Governor) State() xr.State { return g.state }

// Outputs returns the outputs of the most recent cycle.
func (g *Governor) Outputs() xr.Outputs { return g.out }

// LastEvaluation returns the most recent cycle result.
func (g *Governor) LastEvaluation() Evaluation { return g.eval }

// Channels returns a copy of the active envelope table.
func (g *Governor) Channels() []xr.ChannelConfig {
	out := make([]xr.ChannelConfig, len(g.table))
	copy(out, g.table)
	return out
}

// Policy returns the policy in force.
func (g *Governor) Policy() Policy { return g.policy }

func (g *Governor) cycle(cause Cause, s *xr.Sample) Evaluation {
	ev := Evaluation{Cause: cause, Prev: g.state}

	ev.Committed = g.commit()

	if s != nil {
		if s.Channel < 0 || s.Channel >= len(g.table) {
			slog.Warn("sample for unknown channel dropped", "channel", s.Channel, "seq", s.Seq)
		} else {
			g.latched[s.Channel] = s.Value
			g.have[s.Channel] = true
			g.last = *s
			g.hasLast = true
			ev.Sample = *s
			ev.HasSample = true
		}
	}

	all, mask, top, found := scan(g.table, g.latched, g.have)
	ev.Violations = all
	ev.Reported = top
	ev.Violating = found
	ev.Trip = found && top.Severity > g.policy.TripThreshold

	if g.state == xr.StateSafe {
		g.updateDebounce(cause, ev)
	}

	next, fx := Transition(g.state, Inputs{
		PowerOnReq:  cause == CauseRequest,
		Violation:   ev.Trip,
		OutOfRange:  ev.Violating,
		Armed:       g.armed(),
		ConfigFault: len(g.pending) > 0,
	})
	ev.Effects = fx

	switch {
	case fx.Tripped:
		g.trip = top
		g.refreshed = false
		g.debounce = 0
		slog.Debug("trip latched", "violation", top.String())
	case fx.Recovered:
		g.trip = xr.Violation{}
		g.refreshed = false
		g.debounce = 0
		slog.Info("governor recovered")
	case fx.Spurious:
		slog.Debug("spurious recovery attempt ignored", "debounce", g.debounce, "out_of_range", ev.Violating)
	}
	g.state = next
	ev.Next = next

	g.out = g.outputs(ev, mask)
	ev.Outputs = g.out
	g.eval = ev
	return ev
}

// commit applies staged envelopes in channel order.
func (g *Governor) commit() int {
	if len(g.staged) == 0 {
		return 0
	}
	n := 0
	for ch := range g.table {
		env, ok := g.staged[ch]
		if !ok {
			continue
		}
		g.table[ch].Envelope = env
		n++
	}
	clear(g.staged)
	return n
}

// updateDebounce advances the recovery window while in SAFE. The window only
// starts counting once the tripping channel has been re-sampled in range.
func (g *Governor) updateDebounce(cause Cause, ev Evaluation) {
	tc := g.trip.Channel
	if ev.HasSample && ev.Sample.Channel == tc && !Classify(ev.Sample.Value, g.table[tc]).Violating() {
		g.refreshed = true
	}
	if g.have[tc] && Classify(g.latched[tc], g.table[tc]).Violating() {
		g.refreshed = false
	}

	// Sub-threshold violations do not trip but still break the window.
	if ev.Violating {
		g.debounce = 0
		return
	}
	if !g.refreshed || (cause != CauseSample && cause != CauseTick) {
		return
	}
	if g.debounce < g.policy.DebounceCycles {
		g.debounce++
	}
}

func (g *Governor) armed() bool {
	return g.state == xr.StateSafe && g.refreshed && g.debounce >= g.policy.DebounceCycles
}

func (g *Governor) outputs(ev Evaluation, mask xr.Category) xr.Outputs {
	safe := g.state == xr.StateSafe
	o := xr.Outputs{
		State:          g.state,
		PowerEnable:    ev.Effects.PowerEnable,
		Fault:          safe,
		Safe:           safe,
		ViolationValid: safe || ev.Violating,
		FaultMask:      mask,
		LastSample:     g.last,
		SampleValid:    g.hasLast,
		Debounce:       g.debounce,
		Armed:          g.armed(),
	}
	switch {
	case safe:
		o.ViolationCode = g.trip.Code
	case ev.Violating:
		o.ViolationCode = ev.Reported.Code
	}
	return o
}
