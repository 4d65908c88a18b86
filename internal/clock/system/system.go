// Package system provides a real clock implementation.
package system

import "time"

// Clock implements monitor.Clock using time.Now. The monotonic reading is
// kept so elapsed-time comparisons survive wall-clock adjustments.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time.
func (Clock) Now() time.Time {
	return time.Now()
}
