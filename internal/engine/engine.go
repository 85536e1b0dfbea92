package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/apeichen/fpga-aichip/internal/bus"
	"github.com/apeichen/fpga-aichip/internal/capture"
	"github.com/apeichen/fpga-aichip/internal/governor"
	"github.com/apeichen/fpga-aichip/internal/metrics"
	"github.com/apeichen/fpga-aichip/internal/store"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// Recorder persists runs. *store.Store implements it.
type Recorder interface {
	WriteRun(ctx context.Context, r store.Run) error
	WriteCycle(ctx context.Context, in store.Input, ev *store.Evaluation) error
	FinishRun(ctx context.Context, runID, digest string) error
}

// Setter is implemented by sources whose held values can be changed with
// EventSetInput.
type Setter interface {
	Set(channel int, value uint16)
}

// Ticker drives EventTick from Run. *time.Ticker is adapted internally;
// tests inject a manual one.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Report describes what one event did.
type Report struct {
	RunID      string
	Cycle      int64
	Event      Event
	Captured   bool
	Sample     xr.Sample
	Evaluated  bool
	Evaluation governor.Evaluation
	Outputs    xr.Outputs // outputs after the event, evaluated or not
	Digest     string     // evaluation digest, empty when not evaluated
}

// Engine couples a capture engine to a governor and drives both from a queue
// of external events.
//
// All state changes happen in whichever goroutine calls Step. Run is that
// goroutine when the engine is fed through Enqueue; callers must not mix Run
// with direct Step calls.
//
// Each event takes one logical cycle. Events that produce a governor
// evaluation are published on the bus, recorded, and folded into the run's
// trace digest. Publish and record failures are logged and counted but never
// stop the engine.
type Engine struct {
	channels []xr.ChannelConfig
	policy   governor.Policy

	gov *governor.Governor
	cap *capture.Engine
	src capture.Source

	captureEnabled bool

	clock   *Clock
	queue   *eventQueue
	runID   string
	label   string
	digests []string
	begun   bool

	pub       bus.Publisher
	lastTrace string // trace id of the last published frame
	rec       Recorder
	metrics  *metrics.Metrics
	runIDs   RunIDGenerator
	ticker   Ticker
	interval time.Duration
	queueCap int
	observer func(Report, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource replaces the default held-value source. Sources that do not
// implement Setter reject EventSetInput.
func WithSource(src capture.Source) Option { return func(e *Engine) { e.src = src } }

// WithPublisher publishes frames for every evaluation.
func WithPublisher(p bus.Publisher) Option { return func(e *Engine) { e.pub = p } }

// WithRecorder records the run.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.rec = r } }

// WithMetrics instruments the engine.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithRunIDGenerator overrides the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option { return func(e *Engine) { e.runIDs = g } }

// WithLabel attaches a human-readable label to the recorded run.
func WithLabel(label string) Option { return func(e *Engine) { e.label = label } }

// WithTicker makes Run step EventTick on every value received from t.
func WithTicker(t Ticker) Option { return func(e *Engine) { e.ticker = t } }

// WithTickInterval makes Run step EventTick every d. Zero disables ticking.
func WithTickInterval(d time.Duration) Option { return func(e *Engine) { e.interval = d } }

// WithQueueCapacity presizes the event queue.
func WithQueueCapacity(n int) Option { return func(e *Engine) { e.queueCap = n } }

// WithObserver is called after every Step with its report and error.
func WithObserver(fn func(Report, error)) Option { return func(e *Engine) { e.observer = fn } }

// WithClock starts cycle numbering from an existing clock.
func WithClock(c *Clock) Option { return func(e *Engine) { e.clock = c } }

// New builds an engine over channels. The governor starts in IDLE and
// capture starts disabled.
func New(channels []xr.ChannelConfig, policy governor.Policy, opts ...Option) (*Engine, error) {
	e := &Engine{
		channels: append([]xr.ChannelConfig(nil), channels...),
		policy:   policy,
		runIDs:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}

	gov, err := governor.New(e.channels, policy)
	if err != nil {
		return nil, err
	}
	e.gov = gov

	if e.src == nil {
		e.src = newHeldSource(len(e.channels))
	}
	c, err := capture.New(len(e.channels), e.src, capture.ConsumerFunc(gov.Consume))
	if err != nil {
		return nil, err
	}
	e.cap = c

	if e.clock == nil {
		e.clock = NewClock()
	}
	e.queue = newEventQueue(e.queueCap)
	e.runID = e.runIDs.Generate()
	return e, nil
}

// RunID returns the id the run is recorded and published under.
func (e *Engine) RunID() string { return e.runID }

// Clock returns the cycle clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Channels returns the channel table the engine was built with.
func (e *Engine) Channels() []xr.ChannelConfig {
	return append([]xr.ChannelConfig(nil), e.channels...)
}

// Policy returns the governor policy.
func (e *Engine) Policy() governor.Policy { return e.policy }

// Outputs returns the governor outputs after the last event.
func (e *Engine) Outputs() xr.Outputs { return e.gov.Outputs() }

// State returns the governor state.
func (e *Engine) State() xr.State { return e.gov.State() }

// CaptureEnabled returns the current capture_en level.
func (e *Engine) CaptureEnabled() bool { return e.captureEnabled }

// Seq returns the next capture sequence number.
func (e *Engine) Seq() uint32 { return e.cap.Seq() }

// Digests returns the evaluation digests so far, in cycle order.
func (e *Engine) Digests() []string { return append([]string(nil), e.digests...) }

// TraceDigest folds all evaluation digests so far into one value.
func (e *Engine) TraceDigest() string { return xr.MustTraceDigest(e.digests) }

// Enqueue submits ev to Run. It returns false after Stop.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Stop closes the queue. Run drains what is pending and returns nil.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Run processes queued events, and ticks when a ticker is configured, until
// ctx is cancelled or Stop is called and the queue is drained. Event errors
// are logged and do not end the loop.
func (e *Engine) Run(ctx context.Context) error {
	var tick <-chan time.Time
	switch {
	case e.ticker != nil:
		tick = e.ticker.C()
		defer e.ticker.Stop()
	case e.interval > 0:
		t := time.NewTicker(e.interval)
		defer t.Stop()
		tick = t.C
	}

	slog.Info("engine started",
		"run", e.runID,
		"channels", len(e.channels),
		"debounce", e.policy.DebounceCycles,
		"threshold", e.policy.TripThreshold)

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			if _, err := e.Step(ctx, ev); err != nil {
				logEventError(ev, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.queue.Close()
			slog.Info("engine stopped", "run", e.runID, "reason", ctx.Err())
			return ctx.Err()
		case _, ok := <-e.queue.Wait():
			if !ok && e.queue.Len() == 0 {
				slog.Info("engine stopped", "run", e.runID, "cycles", e.clock.Current())
				return nil
			}
		case <-tick:
			if _, err := e.Step(ctx, Tick()); err != nil {
				logEventError(Tick(), err)
			}
		}
	}
}

func logEventError(ev Event, err error) {
	var re *RuntimeError
	if errors.As(err, &re) {
		slog.Warn("event rejected", "event", ev.String(), "code", re.Code, "cycle", re.Cycle, "error", err)
		return
	}
	slog.Error("event failed", "event", ev.String(), "error", err)
}

// Step applies one event synchronously and returns what it did. A non-nil
// error means the event was not applied as asked (rejected configuration,
// bad channel); the event is still recorded and the cycle still consumed.
func (e *Engine) Step(ctx context.Context, ev Event) (Report, error) {
	start := time.Now()
	e.begin(ctx)

	cycle := e.clock.Next()
	rep := Report{RunID: e.runID, Cycle: cycle, Event: ev}

	var err error
	switch ev.Kind {
	case EventReset:
		e.cap.Reset()
		rep.Evaluation, rep.Evaluated = e.gov.Reset(), true
	case EventCaptureEnable:
		e.captureEnabled = ev.Flag
	case EventTrigger:
		err = e.capture(&rep, func() (xr.Sample, bool, error) {
			return e.cap.Pulse(e.captureEnabled)
		})
	case EventTriggerEdge:
		err = e.capture(&rep, func() (xr.Sample, bool, error) {
			return e.cap.OnTriggerEdge(ev.Channel, ev.Value, e.captureEnabled)
		})
	case EventSetInput:
		err = e.setInput(cycle, ev)
	case EventPowerOn:
		rep.Evaluation, rep.Evaluated = e.gov.RequestPower(), true
	case EventConfigure:
		env := xr.Envelope{Min: ev.Min, Max: ev.Max}
		if cerr := e.gov.Configure(ev.Channel, env); cerr != nil {
			e.metrics.ObserveConfigError(cerr)
			err = newRuntimeError(ErrCodeConfigRejected, cycle, ev, "envelope rejected", cerr)
		}
	case EventTick:
		rep.Evaluation, rep.Evaluated = e.gov.Tick(), true
	default:
		err = newRuntimeError(ErrCodeUnknownEvent, cycle, ev, fmt.Sprintf("unknown event kind %q", ev.Kind), nil)
	}

	rep.Outputs = e.gov.Outputs()
	if rep.Evaluated {
		rep.Digest = xr.MustEvaluationDigest(cycle, rep.Outputs)
		e.digests = append(e.digests, rep.Digest)
		e.metrics.ObserveEvaluation(rep.Evaluation)
		if rep.Evaluation.Effects.Tripped {
			slog.Warn("governor tripped",
				"run", e.runID,
				"cycle", cycle,
				"violation", rep.Outputs.ViolationCode.String())
		}
	}

	e.publish(ctx, rep)
	e.record(ctx, rep)
	e.metrics.ObserveStep(time.Since(start))

	if e.observer != nil {
		e.observer(rep, err)
	}
	return rep, err
}

func (e *Engine) capture(rep *Report, fn func() (xr.Sample, bool, error)) error {
	s, ok, err := fn()
	if err != nil {
		code := ErrCodeCapture
		if errors.Is(err, capture.ErrChannelOutOfRange) {
			code = ErrCodeChannelOutOfRange
		}
		return newRuntimeError(code, rep.Cycle, rep.Event, "capture failed", err)
	}
	e.metrics.ObserveCapture(ok)
	if !ok {
		return nil
	}
	rep.Captured, rep.Sample = true, s
	rep.Evaluation, rep.Evaluated = e.gov.LastEvaluation(), true
	return nil
}

func (e *Engine) setInput(cycle int64, ev Event) error {
	if ev.Channel < 0 || ev.Channel >= len(e.channels) {
		return newRuntimeError(ErrCodeChannelOutOfRange, cycle, ev,
			fmt.Sprintf("channel %d not in [0,%d)", ev.Channel, len(e.channels)), nil)
	}
	s, ok := e.src.(Setter)
	if !ok {
		return newRuntimeError(ErrCodeSourceReadOnly, cycle, ev, "source does not accept inputs", nil)
	}
	s.Set(ev.Channel, ev.Value)
	return nil
}

func (e *Engine) begin(ctx context.Context) {
	if e.begun {
		return
	}
	e.begun = true
	if e.rec == nil {
		return
	}
	err := e.rec.WriteRun(ctx, store.Run{
		ID:             e.runID,
		Label:          e.label,
		Channels:       e.channels,
		DebounceCycles: e.policy.DebounceCycles,
		TripThreshold:  e.policy.TripThreshold,
		EngineVersion:  xr.EngineVersion,
		RecordVersion:  xr.RecordVersion,
	})
	if err != nil {
		e.metrics.ObserveRecordError()
		slog.Error("failed to record run header", "run", e.runID, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, rep Report) {
	if e.pub == nil {
		return
	}
	frames := make([]bus.Frame, 0, 3)
	if rep.Captured {
		frames = append(frames, bus.SampleFrame(e.runID, rep.Cycle, rep.Sample))
	}
	if rep.Evaluated {
		frames = append(frames, bus.StatusFrame(e.runID, rep.Cycle, rep.Outputs))
		if rep.Evaluation.Effects.Tripped {
			frames = append(frames, bus.FaultFrame(e.runID, rep.Cycle, rep.Outputs))
		}
	}
	for _, f := range frames {
		sealed, err := bus.Seal(f, e.lastTrace)
		if err != nil {
			e.metrics.ObservePublishError()
			slog.Warn("frame not sealed", "run", e.runID, "cycle", rep.Cycle, "frame", f.Type, "error", err)
			continue
		}
		e.lastTrace = sealed.TraceID
		if err := e.pub.Publish(ctx, sealed); err != nil {
			e.metrics.ObservePublishError()
			slog.Warn("publish failed", "run", e.runID, "cycle", rep.Cycle, "frame", f.Type, "error", err)
		}
	}
}

func (e *Engine) record(ctx context.Context, rep Report) {
	if e.rec == nil {
		return
	}
	var ev *store.Evaluation
	if rep.Evaluated {
		ev = &store.Evaluation{
			RunID:      e.runID,
			Cycle:      rep.Cycle,
			Cause:      rep.Evaluation.Cause.String(),
			Captured:   rep.Captured,
			Sample:     rep.Sample,
			Outputs:    rep.Outputs,
			Rejected:   rep.Evaluation.Effects.Rejected,
			Violations: rep.Evaluation.Violations,
			Digest:     rep.Digest,
		}
	}
	in := rep.Event.input(e.runID, rep.Cycle)
	if rep.Event.Kind == EventTrigger && rep.Captured {
		// The source may not be replayable; keep what it returned.
		in.Channel, in.Value = rep.Sample.Channel, rep.Sample.Value
	}
	if err := e.rec.WriteCycle(ctx, in, ev); err != nil {
		e.metrics.ObserveRecordError()
		slog.Error("failed to record cycle", "run", e.runID, "cycle", rep.Cycle, "error", err)
	}
}

// Finish seals the run: it computes the trace digest and, when recording,
// stores it on the run header. Call it after Run has returned.
func (e *Engine) Finish(ctx context.Context) (string, error) {
	e.begin(ctx)
	digest := e.TraceDigest()
	if e.rec != nil {
		if err := e.rec.FinishRun(ctx, e.runID, digest); err != nil {
			e.metrics.ObserveRecordError()
			return digest, fmt.Errorf("finish run %s: %w", e.runID, err)
		}
	}
	slog.Info("run finished", "run", e.runID, "cycles", e.clock.Current(), "digest", digest)
	return digest, nil
}

// heldSource holds the last value set per channel, like an ADC whose inputs
// are sampled and held between conversions.
type heldSource struct {
	values []uint16
}

func newHeldSource(n int) *heldSource {
	return &heldSource{values: make([]uint16, n)}
}

func (h *heldSource) Read(ch int) uint16 {
	if ch < 0 || ch >= len(h.values) {
		return 0
	}
	return h.values[ch]
}

func (h *heldSource) Set(ch int, v uint16) {
	if ch >= 0 && ch < len(h.values) {
		h.values[ch] = v
	}
}
