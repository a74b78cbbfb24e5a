package engine

import "sync/atomic"

// Clock is a monotonic logical clock. Every transaction the engine applies
// is stamped with the next value, so logs and traces have a total order
// that does not depend on wall time.
//
// Clock is safe for concurrent use, although only the Run goroutine calls
// Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, for example after
// rebuilding a grid from a checkpoint.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
