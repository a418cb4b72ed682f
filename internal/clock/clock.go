// Package clock holds the controllable time source used by tests of
// the hold store, coordinator and sweeper.  Production code takes a
// `now func() time.Time` and receives time.Now; tests pass Fake.Now.
package clock

import (
    "sync"
    "time"
)

// Fake is a clock that only moves when Advance is called.  It is safe
// for concurrent use.
type Fake struct {
    mu      sync.Mutex
    current time.Time
}

// NewFake returns a Fake set to initial.
func NewFake(initial time.Time) *Fake { return &Fake{current: initial} }

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.current
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.current = f.current.Add(d)
}
