package engine

import (
	"errors"
	"fmt"
)

// RuntimeErrorCode categorizes errors returned by Step.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownEvent indicates an event kind the engine does not handle.
	ErrCodeUnknownEvent RuntimeErrorCode = "UNKNOWN_EVENT"

	// ErrCodeChannelOutOfRange indicates an input or capture aimed at a
	// channel that does not exist.
	ErrCodeChannelOutOfRange RuntimeErrorCode = "CHANNEL_OUT_OF_RANGE"

	// ErrCodeConfigRejected indicates the governor refused an envelope.
	ErrCodeConfigRejected RuntimeErrorCode = "CONFIG_REJECTED"

	// ErrCodeSourceReadOnly indicates a set_input against a source that
	// cannot be written.
	ErrCodeSourceReadOnly RuntimeErrorCode = "SOURCE_READ_ONLY"

	// ErrCodeCapture indicates the capture engine failed to read a sample.
	ErrCodeCapture RuntimeErrorCode = "CAPTURE_FAILED"
)

// RuntimeError is returned by Step when an event could not be applied as
// asked. The event is still recorded, and the engine keeps running.
type RuntimeError struct {
	Code    RuntimeErrorCode
	Message string
	Cycle   int64
	Event   Event
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (cycle=%d): %v", e.Code, e.Message, e.Cycle, e.Err)
	}
	return fmt.Sprintf("%s: %s (cycle=%d)", e.Code, e.Message, e.Cycle)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsConfigRejected reports whether err is a rejected envelope change.
func IsConfigRejected(err error) bool {
	return hasCode(err, ErrCodeConfigRejected)
}

// IsChannelOutOfRange reports whether err names a nonexistent channel.
func IsChannelOutOfRange(err error) bool {
	return hasCode(err, ErrCodeChannelOutOfRange)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

func newRuntimeError(code RuntimeErrorCode, cycle int64, ev Event, msg string, err error) *RuntimeError {
	return &RuntimeError{Code: code, Message: msg, Cycle: cycle, Event: ev, Err: err}
}
