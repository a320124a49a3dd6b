// Package system provides the wall clock used to stamp notifier events.
package system

import "time"

// Clock implements archive.Clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
