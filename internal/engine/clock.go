package engine

import "sync/atomic"

// Clock hands out logical cycle numbers. Every event processed by the engine
// is stamped with the next value, so recorded runs are ordered without any
// reference to wall time and replay assigns the same numbers again.
//
// Clock is safe for concurrent use, although only the Run goroutine (or the
// caller of Step) advances it in practice.
type Clock struct {
	cycle atomic.Int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock positioned at start; the next cycle is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.cycle.Store(start)
	return c
}

// Next advances the clock and returns the new cycle number.
func (c *Clock) Next() int64 {
	return c.cycle.Add(1)
}

// Current returns the last cycle handed out.
func (c *Clock) Current() int64 {
	return c.cycle.Load()
}
