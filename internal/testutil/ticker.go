package testutil

import "time"

// ManualTicker delivers control ticks only when the test asks for them.
// It satisfies the engine's ticker contract (C plus Stop).
type ManualTicker struct {
	ch chan time.Time
}

// NewManualTicker creates a ticker with room for buffered pending ticks.
func NewManualTicker(buffer int) *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time, buffer)}
}

// C returns the tick channel.
func (m *ManualTicker) C() <-chan time.Time { return m.ch }

// Fire delivers one tick. It blocks if the buffer is full.
func (m *ManualTicker) Fire() {
	m.ch <- time.Unix(0, 0)
}

// Stop is a no-op; pending ticks remain readable.
func (m *ManualTicker) Stop() {}
