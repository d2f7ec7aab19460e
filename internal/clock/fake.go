package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: Normalize(t)}
}

// NewTickingClock returns a fake clock that advances by step after every Now call.
func NewTickingClock(t time.Time, step time.Duration) *FakeClock {
	return &FakeClock{now: Normalize(t), step: step}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Normalize(t)
}
