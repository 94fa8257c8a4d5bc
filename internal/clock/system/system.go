// Package system provides the real clock and sleeper used outside tests.
package system

import (
	"context"
	"time"
)

// Clock implements signals.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Pauser sleeps on a real timer.
type Pauser struct{}

// Pause blocks for delay or until ctx is done, whichever comes first. It
// returns ctx.Err() when the wait was cut short.
func (Pauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
