package scheduler

import "time"

// Clock abstracts logical time so the same iteration algorithm runs
// against the wall clock in live mode and a stepped index in backtests.
type Clock interface {
	Now() time.Time
}

// WallClock reads the system clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// SimulatedClock advances only when told to.
type SimulatedClock struct {
	current time.Time
}

// NewSimulatedClock creates a clock frozen at start.
func NewSimulatedClock(start time.Time) *SimulatedClock {
	return &SimulatedClock{current: start}
}

func (c *SimulatedClock) Now() time.Time { return c.current }

// Advance moves the clock forward by step.
func (c *SimulatedClock) Advance(step time.Duration) {
	c.current = c.current.Add(step)
}
