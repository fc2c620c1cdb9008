// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements voyage.Clock in UTC.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time. Screenshot names and month/day timestamps rely on UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
