package capture

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/apeichen/fpga-aichip/internal/xr"
)

// Auto selects the round-robin channel instead of an explicit one.
const Auto = -1

// ErrChannelOutOfRange is returned when an explicit channel selection is not
// one of the configured channels.
var ErrChannelOutOfRange = errors.New("capture: channel out of range")

// Source is the multiplexer/ADC collaborator. Read returns the raw reading
// of a channel at the instant of capture.
type Source interface {
	Read(channel int) uint16
}

// Consumer receives every accepted sample, synchronously and in sequence
// order.
type Consumer interface {
	Consume(s xr.Sample)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(xr.Sample)

func (f ConsumerFunc) Consume(s xr.Sample) { f(s) }

// Engine is the capture engine state.
type Engine struct {
	channels int
	src      Source
	sink     Consumer

	seq         uint32
	next        int
	trigger     bool
	last        xr.Sample
	sampleValid bool
}

// New creates a capture engine over the given number of channels.
// src may be nil when the caller only uses OnTriggerEdge; sink may be nil
// when samples are only observed through the return values.
func New(channels int, src Source, sink Consumer) (*Engine, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("capture: channel count must be positive, got %d", channels)
	}
	return &Engine{channels: channels, src: src, sink: sink}, nil
}

// Reset clears the sequence counter, the latched sample and the trigger edge
// detector. It is idempotent.
func (e *Engine) Reset() {
	e.seq = 0
	e.next = 0
	e.trigger = false
	e.last = xr.Sample{}
	e.sampleValid = false
}

// OnTriggerEdge performs one capture for an already-detected rising edge.
//
// sel is either Auto or an explicit channel index. An explicit selection does
// not move the round-robin pointer. When enabled is false nothing is captured
// and the returned bool is false.
func (e *Engine) OnTriggerEdge(sel int, raw uint16, enabled bool) (xr.Sample, bool, error) {
	ch := sel
	if sel == Auto {
		ch = e.next
	} else if sel < 0 || sel >= e.channels {
		return xr.Sample{}, false, fmt.Errorf("%w: %d (channels=%d)", ErrChannelOutOfRange, sel, e.channels)
	}

	if !enabled {
		slog.Debug("trigger ignored: capture disabled", "channel", ch)
		return xr.Sample{}, false, nil
	}

	s := xr.Sample{Channel: ch, Value: raw, Seq: e.seq, Valid: true}
	e.seq++
	if sel == Auto {
		e.next = (e.next + 1) % e.channels
	}
	e.last = s
	e.sampleValid = true

	if e.sink != nil {
		e.sink.Consume(s)
	}
	return s, true, nil
}

// Drive presents the current trigger line level. A capture happens only on a
// low-to-high transition; holding the line high does nothing. The value is
// read from the Source for the round-robin channel.
func (e *Engine) Drive(level, enabled bool) (xr.Sample, bool, error) {
	rising := level && !e.trigger
	e.trigger = level
	if !rising {
		return xr.Sample{}, false, nil
	}
	if e.src == nil {
		return xr.Sample{}, false, errors.New("capture: no source attached")
	}
	return e.OnTriggerEdge(Auto, e.src.Read(e.next), enabled)
}

// Pulse drives the trigger line high then low, producing at most one capture.
func (e *Engine) Pulse(enabled bool) (xr.Sample, bool, error) {
	s, ok, err := e.Drive(true, enabled)
	if err != nil {
		return s, ok, err
	}
	_, _, _ = e.Drive(false, enabled)
	return s, ok, nil
}

// Last returns the most recently accepted sample and whether one exists
// since the last reset.
func (e *Engine) Last() (xr.Sample, bool) { return e.last, e.sampleValid }

// Seq returns the sequence number the next accepted sample will carry.
func (e *Engine) Seq() uint32 { return e.seq }

// NextChannel returns the round-robin channel for the next Auto capture.
func (e *Engine) NextChannel() int { return e.next }

// Channels returns the configured channel count.
func (e *Engine) Channels() int { return e.channels }

// TriggerLevel returns the last level seen by Drive.
func (e *Engine) TriggerLevel() bool { return e.trigger }

// SetSeq positions the sequence counter. Used to resume a recorded run and to
// exercise counter wrap in tests.
func (e *Engine) SetSeq(seq uint32) { e.seq = seq }
