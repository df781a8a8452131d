// Package system provides the wall-clock verify.Clock used outside of
// tests.
package system

import "time"

// Clock reads the system time. Card and activity timestamps are always
// recorded in UTC so listing order and report rendering do not depend
// on the host timezone.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
