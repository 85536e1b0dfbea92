package xr

import (
	"fmt"
	"strings"
)

// Kind groups channels by the physical quantity they carry. It selects the
// violation category and default severities; the envelope itself is always
// per channel.
type Kind string

const (
	KindVoltage       Kind = "voltage"
	KindCurrent       Kind = "current"
	KindCurrentReturn Kind = "current_return"
	KindTemperature   Kind = "temperature"
	KindGeneric       Kind = "generic"
)

// ParseKind maps a configuration string to a Kind. The empty string maps to
// KindGeneric.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindVoltage:
		return KindVoltage, nil
	case KindCurrent:
		return KindCurrent, nil
	case KindCurrentReturn:
		return KindCurrentReturn, nil
	case KindTemperature:
		return KindTemperature, nil
	case KindGeneric, "":
		return KindGeneric, nil
	default:
		return "", fmt.Errorf("unknown channel kind %q", raw)
	}
}

// Envelope is the inclusive valid range for a channel's raw value.
// Values equal to Min or Max are inside the envelope.
type Envelope struct {
	Min uint16 `json:"min" yaml:"min"`
	Max uint16 `json:"max" yaml:"max"`
}

// Contains reports whether v lies within [Min, Max].
func (e Envelope) Contains(v uint16) bool {
	return v >= e.Min && v <= e.Max
}

// Inverted reports whether the envelope violates Min <= Max.
func (e Envelope) Inverted() bool {
	return e.Min > e.Max
}

func (e Envelope) String() string {
	return fmt.Sprintf("[0x%04X, 0x%04X]", e.Min, e.Max)
}

// ChannelConfig describes one configured channel.
//
// UnderSeverity and OverSeverity override the kind defaults when non-zero.
type ChannelConfig struct {
	Name          string   `json:"name"`
	Kind          Kind     `json:"kind"`
	Envelope      Envelope `json:"envelope"`
	UnderSeverity uint8    `json:"under_severity,omitempty"`
	OverSeverity  uint8    `json:"over_severity,omitempty"`
}

// Default severities: under-range 8, over-range 12 (8 for voltage).
const (
	SeverityNone  uint8 = 0
	SeverityUnder uint8 = 8
	SeverityOver  uint8 = 12
)

// Severity returns the severity for a violation of the given kind on this
// channel, applying per-channel overrides.
func (c ChannelConfig) Severity(vk ViolationKind) uint8 {
	switch vk {
	case Under:
		if c.UnderSeverity != 0 {
			return c.UnderSeverity
		}
		return SeverityUnder
	case Over:
		if c.OverSeverity != 0 {
			return c.OverSeverity
		}
		if c.Kind == KindVoltage {
			return SeverityUnder
		}
		return SeverityOver
	default:
		return SeverityNone
	}
}

// DefaultChannels12 returns the twelve-channel table used by the multi-channel
// bench: channels 0-3 voltage, 4-7 current, 8-11 temperature. Raw units are
// millivolts, centiamps and degrees Celsius.
func DefaultChannels12() []ChannelConfig {
	out := make([]ChannelConfig, 0, 12)
	for i := 0; i < 4; i++ {
		out = append(out, ChannelConfig{
			Name:     fmt.Sprintf("v%d", i),
			Kind:     KindVoltage,
			Envelope: Envelope{Min: 1000, Max: 1200},
		})
	}
	for i := 0; i < 4; i++ {
		out = append(out, ChannelConfig{
			Name:     fmt.Sprintf("i%d", i),
			Kind:     KindCurrent,
			Envelope: Envelope{Min: 0, Max: 150},
		})
	}
	for i := 0; i < 4; i++ {
		out = append(out, ChannelConfig{
			Name:     fmt.Sprintf("t%d", i),
			Kind:     KindTemperature,
			Envelope: Envelope{Min: 0, Max: 85},
		})
	}
	return out
}

// DefaultChannels4 returns the four-channel power-stage table
// (vin, vout, iout, temp) used by the core integration bench.
func DefaultChannels4() []ChannelConfig {
	return []ChannelConfig{
		{Name: "vin", Kind: KindVoltage, Envelope: Envelope{Min: 0x0800, Max: 0x1200}},
		{Name: "vout", Kind: KindVoltage, Envelope: Envelope{Min: 0x0400, Max: 0x1000}},
		{Name: "iout", Kind: KindCurrent, Envelope: Envelope{Min: 0x0000, Max: 0x1500}},
		{Name: "temp", Kind: KindTemperature, Envelope: Envelope{Min: 0x0000, Max: 0x0400}},
	}
}
