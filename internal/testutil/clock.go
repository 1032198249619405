package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a thread-safe time source for tests. Each call to Now
// advances it by a fixed step, so stored timestamps are reproducible.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	ticks int64
}

// NewDeterministicClock returns a clock starting at 2024-01-01T00:00:00Z that
// advances one millisecond per call.
//
// The first call to Now() returns start + 1ms.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{
		start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		step:  time.Millisecond,
	}
}

// Now advances the clock and returns the new time.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.start.Add(time.Duration(c.ticks) * c.step)
}

// Ticks returns how many times Now has been called.
func (c *DeterministicClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
