package engine

import (
	"fmt"

	"github.com/apeichen/fpga-aichip/internal/capture"
	"github.com/apeichen/fpga-aichip/internal/store"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// EventKind names an external stimulus.
type EventKind string

const (
	// EventReset pulses the synchronous reset.
	EventReset EventKind = "reset"
	// EventCaptureEnable sets the capture_en level (Flag).
	EventCaptureEnable EventKind = "capture_enable"
	// EventTrigger pulses the trigger line once. The value is read from the
	// engine's source for the round-robin channel.
	EventTrigger EventKind = "trigger"
	// EventTriggerEdge is a trigger edge carrying its own raw value. Channel
	// selects the channel, or capture.Auto for round-robin.
	EventTriggerEdge EventKind = "trigger_edge"
	// EventSetInput changes the held ADC value of one channel.
	EventSetInput EventKind = "set_input"
	// EventPowerOn raises power_on_req for one cycle.
	EventPowerOn EventKind = "power_on"
	// EventConfigure stages a new envelope for one channel.
	EventConfigure EventKind = "configure"
	// EventTick is one idle clock cycle with no other stimulus.
	EventTick EventKind = "tick"
)

// Event is one stimulus presented to the engine. Only the fields relevant to
// Kind are meaningful.
type Event struct {
	Kind    EventKind
	Channel int
	Value   uint16
	Flag    bool
	Min     uint16
	Max     uint16
}

func Reset() Event                    { return Event{Kind: EventReset} }
func CaptureEnable(on bool) Event     { return Event{Kind: EventCaptureEnable, Flag: on} }
func Trigger() Event                  { return Event{Kind: EventTrigger} }
func PowerOn() Event                  { return Event{Kind: EventPowerOn} }
func Tick() Event                     { return Event{Kind: EventTick} }
func SetInput(ch int, v uint16) Event { return Event{Kind: EventSetInput, Channel: ch, Value: v} }

// TriggerEdge captures raw on channel ch (or capture.Auto).
func TriggerEdge(ch int, raw uint16) Event {
	return Event{Kind: EventTriggerEdge, Channel: ch, Value: raw}
}

// Configure stages env for channel ch.
func Configure(ch int, env xr.Envelope) Event {
	return Event{Kind: EventConfigure, Channel: ch, Min: env.Min, Max: env.Max}
}

// ParseEventKind accepts the lower-case names used in records and scenarios.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case EventReset, EventCaptureEnable, EventTrigger, EventTriggerEdge,
		EventSetInput, EventPowerOn, EventConfigure, EventTick:
		return k, nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

func (e Event) String() string {
	switch e.Kind {
	case EventCaptureEnable:
		return fmt.Sprintf("%s(%t)", e.Kind, e.Flag)
	case EventTriggerEdge:
		if e.Channel == capture.Auto {
			return fmt.Sprintf("%s(auto, 0x%04X)", e.Kind, e.Value)
		}
		return fmt.Sprintf("%s(ch%d, 0x%04X)", e.Kind, e.Channel, e.Value)
	case EventSetInput:
		return fmt.Sprintf("%s(ch%d, 0x%04X)", e.Kind, e.Channel, e.Value)
	case EventConfigure:
		return fmt.Sprintf("%s(ch%d, [0x%04X,0x%04X])", e.Kind, e.Channel, e.Min, e.Max)
	}
	return string(e.Kind)
}

func (e Event) input(runID string, cycle int64) store.Input {
	return store.Input{
		RunID:   runID,
		Cycle:   cycle,
		Kind:    string(e.Kind),
		Channel: e.Channel,
		Value:   e.Value,
		Flag:    e.Flag,
		Min:     e.Min,
		Max:     e.Max,
	}
}

// EventFromInput rebuilds the event recorded in in.
func EventFromInput(in store.Input) (Event, error) {
	kind, err := ParseEventKind(in.Kind)
	if err != nil {
		return Event{}, fmt.Errorf("cycle %d: %w", in.Cycle, err)
	}
	return Event{
		Kind:    kind,
		Channel: in.Channel,
		Value:   in.Value,
		Flag:    in.Flag,
		Min:     in.Min,
		Max:     in.Max,
	}, nil
}
