// Package clock abstracts the wall clock so lifecycle rules (quota days,
// expiry windows, subscription periods) can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Implementations return UTC with
// microsecond precision, which is what the database round-trips.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real returns the system clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// FakeClock is a manually advanced clock for tests. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// Fake returns a FakeClock frozen at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial.UTC().Truncate(time.Microsecond)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t.UTC().Truncate(time.Microsecond)
	c.mu.Unlock()
}
