// Package metrics exposes capture and governor activity as Prometheus
// collectors.
//
// All methods are safe on a nil *Metrics, so the engine can run without
// instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/apeichen/fpga-aichip/internal/governor"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

const namespace = "xrcore"

// Metrics holds the collectors for one engine.
type Metrics struct {
	samplesCaptured prometheus.Counter
	samplesDropped  prometheus.Counter
	evaluations     *prometheus.CounterVec
	violations      *prometheus.CounterVec
	trips           prometheus.Counter
	recoveries      prometheus.Counter
	spurious        prometheus.Counter
	configErrors    *prometheus.CounterVec
	publishErrors   prometheus.Counter
	recordErrors    prometheus.Counter
	state           prometheus.Gauge
	debounce        prometheus.Gauge
	stepDuration    prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		samplesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "samples_total",
			Help: "Samples accepted by the capture engine.",
		}),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "dropped_total",
			Help: "Trigger edges ignored because capture was disabled.",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "governor", Name: "evaluations_total",
			Help: "Governor evaluation cycles by cause.",
		}, []string{"cause"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "governor", Name: "violations_total",
			Help: "Out-of-envelope channel readings seen during evaluation.",
		}, []string{"channel", "kind"}),
		trips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "governor", Name: "trips_total",
			Help: "RUN to SAFE transitions.",
		}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "governor", Name: "recoveries_total",
			Help: "SAFE to RUN transitions.",
		}),
		spurious: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "governor", Name: "spurious_recovery_attempts_total",
			Help: "Power-on requests ignored while in SAFE.",
		}),
		configErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "governor", Name: "config_errors_total",
			Help: "Rejected configuration calls by code.",
		}, []string{"code"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "publish_errors_total",
			Help: "Frames that failed to publish.",
		}),
		recordErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "record_errors_total",
			Help: "Cycles that failed to record.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "governor", Name: "state",
			Help: "Supervisory state code (1=IDLE, 2=RUN, 4=SAFE).",
		}),
		debounce: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "governor", Name: "debounce_cycles",
			Help: "Current recovery debounce count.",
		}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "step_duration_seconds",
			Help:    "Wall time to process one control event.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
		}),
	}
	reg.MustRegister(
		m.samplesCaptured, m.samplesDropped, m.evaluations, m.violations,
		m.trips, m.recoveries, m.spurious, m.configErrors,
		m.publishErrors, m.recordErrors, m.state, m.debounce, m.stepDuration,
	)
	m.state.Set(float64(xr.StateIdle))
	return m
}

// ObserveCapture counts an accepted or ignored trigger edge.
func (m *Metrics) ObserveCapture(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.samplesCaptured.Inc()
	} else {
		m.samplesDropped.Inc()
	}
}

// ObserveEvaluation records one governor cycle.
func (m *Metrics) ObserveEvaluation(ev governor.Evaluation) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(ev.Cause.String()).Inc()
	for _, v := range ev.Violations {
		m.violations.WithLabelValues(strconv.Itoa(v.Channel), v.Kind.String()).Inc()
	}
	if ev.Effects.Tripped {
		m.trips.Inc()
	}
	if ev.Effects.Recovered {
		m.recoveries.Inc()
	}
	if ev.Effects.Spurious {
		m.spurious.Inc()
	}
	m.state.Set(float64(ev.Outputs.State))
	m.debounce.Set(float64(ev.Outputs.Debounce))
}

// ObserveConfigError counts a rejected configuration call.
func (m *Metrics) ObserveConfigError(err error) {
	if m == nil || err == nil {
		return
	}
	code := string(governor.ConfigErrorCodeOf(err))
	if code == "" {
		code = "OTHER"
	}
	m.configErrors.WithLabelValues(code).Inc()
}

// ObservePublishError counts a failed frame publish.
func (m *Metrics) ObservePublishError() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}

// ObserveRecordError counts a failed store write.
func (m *Metrics) ObserveRecordError() {
	if m == nil {
		return
	}
	m.recordErrors.Inc()
}

// ObserveStep records how long one control event took.
func (m *Metrics) ObserveStep(d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.Observe(d.Seconds())
}
