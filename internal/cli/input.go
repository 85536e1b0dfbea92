package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apeichen/fpga-aichip/internal/capture"
	"github.com/apeichen/fpga-aichip/internal/engine"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// eventLine is the JSON form of one input line. Channel is a pointer so that
// an omitted channel on trigger_edge means round-robin.
type eventLine struct {
	Kind    string `json:"kind"`
	Channel *int   `json:"channel"`
	Value   uint16 `json:"value"`
	On      bool   `json:"on"`
	Min     uint16 `json:"min"`
	Max     uint16 `json:"max"`
}

// parseEventLine accepts either a JSON object or the short text form:
//
//	reset
//	capture_enable on
//	set_input 1 0x0400
//	trigger
//	trigger_edge auto 0x0C00
//	trigger_edge 2 3000
//	power_on
//	configure 0 0x0800 0x1200
//	tick
//
// ok is false for blank lines and # comments.
func parseEventLine(line string) (ev engine.Event, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return engine.Event{}, false, nil
	}
	if strings.HasPrefix(line, "{") {
		ev, err = parseEventJSON([]byte(line))
		return ev, err == nil, err
	}
	ev, err = parseEventText(strings.Fields(line))
	return ev, err == nil, err
}

func parseEventJSON(data []byte) (engine.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var l eventLine
	if err := dec.Decode(&l); err != nil {
		return engine.Event{}, fmt.Errorf("invalid event JSON: %w", err)
	}
	kind, err := engine.ParseEventKind(l.Kind)
	if err != nil {
		return engine.Event{}, err
	}
	ch := 0
	if l.Channel != nil {
		ch = *l.Channel
	} else if kind == engine.EventTriggerEdge {
		ch = capture.Auto
	}
	switch kind {
	case engine.EventCaptureEnable:
		return engine.CaptureEnable(l.On), nil
	case engine.EventSetInput:
		return engine.SetInput(ch, l.Value), nil
	case engine.EventTriggerEdge:
		return engine.TriggerEdge(ch, l.Value), nil
	case engine.EventConfigure:
		return engine.Configure(ch, xr.Envelope{Min: l.Min, Max: l.Max}), nil
	}
	return engine.Event{Kind: kind}, nil
}

func parseEventText(fields []string) (engine.Event, error) {
	kind, err := engine.ParseEventKind(strings.ToLower(fields[0]))
	if err != nil {
		return engine.Event{}, err
	}
	args := fields[1:]
	want := map[engine.EventKind]int{
		engine.EventCaptureEnable: 1,
		engine.EventSetInput:      2,
		engine.EventTriggerEdge:   2,
		engine.EventConfigure:     3,
	}[kind]
	if len(args) != want {
		return engine.Event{}, fmt.Errorf("%s takes %d argument(s), got %d", kind, want, len(args))
	}

	switch kind {
	case engine.EventCaptureEnable:
		on, err := parseSwitch(args[0])
		if err != nil {
			return engine.Event{}, err
		}
		return engine.CaptureEnable(on), nil
	case engine.EventSetInput:
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return engine.Event{}, fmt.Errorf("invalid channel %q", args[0])
		}
		v, err := parseRaw(args[1])
		if err != nil {
			return engine.Event{}, err
		}
		return engine.SetInput(ch, v), nil
	case engine.EventTriggerEdge:
		ch := capture.Auto
		if args[0] != "auto" {
			if ch, err = strconv.Atoi(args[0]); err != nil {
				return engine.Event{}, fmt.Errorf("invalid channel %q", args[0])
			}
		}
		v, err := parseRaw(args[1])
		if err != nil {
			return engine.Event{}, err
		}
		return engine.TriggerEdge(ch, v), nil
	case engine.EventConfigure:
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return engine.Event{}, fmt.Errorf("invalid channel %q", args[0])
		}
		lo, err := parseRaw(args[1])
		if err != nil {
			return engine.Event{}, err
		}
		hi, err := parseRaw(args[2])
		if err != nil {
			return engine.Event{}, err
		}
		return engine.Configure(ch, xr.Envelope{Min: lo, Max: hi}), nil
	}
	return engine.Event{Kind: kind}, nil
}

// parseRaw reads a 16-bit raw value in decimal or 0x hex.
func parseRaw(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid raw value %q: must fit 16 bits", s)
	}
	return uint16(v), nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch %q: want on or off", s)
}

// readEvents parses r line by line and hands each event to emit. A parse
// error stops reading and reports the line number.
func readEvents(r io.Reader, emit func(engine.Event) bool) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		ev, ok, err := parseEventLine(sc.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if ok && !emit(ev) {
			return nil
		}
	}
	return sc.Err()
}
