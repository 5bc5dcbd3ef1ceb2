// Package clock abstracts wall-clock time so energy regeneration, god-tier
// expiry and withdrawal delays can be driven by virtual time in tests and
// on the operator time-travel endpoint.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Real is the system clock.
type Real struct{}

// Now returns the current system time in UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Sim is a clock whose reading is the system time shifted by an adjustable
// offset. With a fixed base it never moves on its own.
type Sim struct {
	mu     sync.RWMutex
	base   time.Time // zero means "follow the system clock"
	offset time.Duration
}

// NewSim creates a simulated clock that follows the system clock with no offset.
func NewSim() *Sim {
	return &Sim{}
}

// NewFixed creates a simulated clock frozen at t until advanced.
func NewFixed(t time.Time) *Sim {
	return &Sim{base: t.UTC()}
}

// Now returns the current simulated time.
func (c *Sim) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.base.IsZero() {
		return time.Now().UTC().Add(c.offset)
	}
	return c.base.Add(c.offset)
}

// Advance moves the simulated clock forward by the given duration.
func (c *Sim) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Reset resets the clock offset to zero.
func (c *Sim) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
}

// Offset returns the current clock offset.
func (c *Sim) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
