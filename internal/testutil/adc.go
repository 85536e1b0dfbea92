package testutil

import "sync"

// ScriptedADC is a deterministic stand-in for the multiplexer/ADC.
//
// Each channel holds a current value returned by Read. A channel can also be
// given a script: queued values consumed one per Read before falling back to
// the held value. This lets a test describe "the next three readings of
// iout" without stepping the engine between them.
//
// Thread-safety: all methods are safe for concurrent use. The engine loop
// reads while the test goroutine writes.
type ScriptedADC struct {
	mu      sync.Mutex
	values  []uint16
	scripts [][]uint16
	reads   []int
}

// NewScriptedADC creates a source over n channels, all reading 0.
func NewScriptedADC(n int) *ScriptedADC {
	return &ScriptedADC{
		values:  make([]uint16, n),
		scripts: make([][]uint16, n),
		reads:   make([]int, n),
	}
}

// Set holds a channel at value. Out-of-range channels are ignored.
func (a *ScriptedADC) Set(channel int, value uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if channel < 0 || channel >= len(a.values) {
		return
	}
	a.values[channel] = value
}

// SetAll holds every channel at value.
func (a *ScriptedADC) SetAll(value uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.values {
		a.values[i] = value
	}
}

// Script queues values for channel; each Read pops one. Once drained the
// channel reads its held value, which is left at the last scripted value.
func (a *ScriptedADC) Script(channel int, values ...uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if channel < 0 || channel >= len(a.values) {
		return
	}
	a.scripts[channel] = append(a.scripts[channel], values...)
}

// Read implements capture.Source.
func (a *ScriptedADC) Read(channel int) uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if channel < 0 || channel >= len(a.values) {
		return 0
	}
	a.reads[channel]++
	if q := a.scripts[channel]; len(q) > 0 {
		a.values[channel] = q[0]
		a.scripts[channel] = q[1:]
	}
	return a.values[channel]
}

// Reads returns how many times channel has been read.
func (a *ScriptedADC) Reads(channel int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if channel < 0 || channel >= len(a.reads) {
		return 0
	}
	return a.reads[channel]
}

// Channels returns the channel count.
func (a *ScriptedADC) Channels() int {
	return len(a.values)
}
