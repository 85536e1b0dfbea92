package governor

import (
	"fmt"

	"github.com/apeichen/fpga-aichip/internal/xr"
)

// MaxChannels bounds the channel table; the channel index must fit in the
// low byte of a violation code.
const MaxChannels = 256

// Policy holds the tunables that are not per channel.
type Policy struct {
	// DebounceCycles is the number of consecutive clean cycles, counted after
	// the tripping channel is re-sampled in range, before recovery is armed.
	DebounceCycles int `json:"debounce_cycles"`

	// TripThreshold: a violation trips RUN to SAFE only when its severity is
	// strictly greater than this value.
	TripThreshold uint8 `json:"trip_threshold"`
}

// DefaultPolicy returns debounce 16 and threshold 4.
func DefaultPolicy() Policy {
	return Policy{DebounceCycles: 16, TripThreshold: 4}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.DebounceCycles < 1 {
		return &ConfigError{
			Code:    ErrCodeDebounceInvalid,
			Channel: -1,
			Message: fmt.Sprintf("debounce cycles must be >= 1, got %d", p.DebounceCycles),
		}
	}
	return nil
}

// ValidateChannels checks a full channel table: non-empty, at most
// MaxChannels entries, and min <= max for every envelope.
func ValidateChannels(channels []xr.ChannelConfig) error {
	if len(channels) == 0 || len(channels) > MaxChannels {
		return &ConfigError{
			Code:    ErrCodeChannelCount,
			Channel: -1,
			Message: fmt.Sprintf("channel count must be 1..%d, got %d", MaxChannels, len(channels)),
		}
	}
	for i, c := range channels {
		if c.Envelope.Inverted() {
			return newInvertedError(i, c.Envelope.Min, c.Envelope.Max)
		}
	}
	return nil
}
