package governor

import (
	"errors"
	"fmt"
)

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeEnvelopeInverted indicates min > max.
	ErrCodeEnvelopeInverted ConfigErrorCode = "ENVELOPE_INVERTED"

	// ErrCodeChannelOutOfRange indicates a channel index outside 0..N-1.
	ErrCodeChannelOutOfRange ConfigErrorCode = "CHANNEL_OUT_OF_RANGE"

	// ErrCodeDebounceInvalid indicates a non-positive debounce window.
	ErrCodeDebounceInvalid ConfigErrorCode = "DEBOUNCE_INVALID"

	// ErrCodeChannelCount indicates an empty or oversized channel table.
	ErrCodeChannelCount ConfigErrorCode = "CHANNEL_COUNT"
)

// ConfigError is returned synchronously by configuration calls. While the
// most recent configuration call failed, the governor refuses to enter RUN.
type ConfigError struct {
	Code    ConfigErrorCode
	Channel int
	Message string
}

func (e *ConfigError) Error() string {
	if e.Channel >= 0 {
		return fmt.Sprintf("%s: %s (channel=%d)", e.Code, e.Message, e.Channel)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ConfigErrorCodeOf returns the code of a wrapped *ConfigError, or "".
func ConfigErrorCodeOf(err error) ConfigErrorCode {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func newInvertedError(ch int, min, max uint16) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeEnvelopeInverted,
		Channel: ch,
		Message: fmt.Sprintf("envelope min 0x%04X exceeds max 0x%04X", min, max),
	}
}

func newChannelRangeError(ch, n int) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeChannelOutOfRange,
		Channel: ch,
		Message: fmt.Sprintf("channel not in 0..%d", n-1),
	}
}
