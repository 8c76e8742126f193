// Package scheduler serializes work per conversation and drives everything
// that happens without an inbound message: reminders and other detached
// tasks, the silence-revival scan, and the cron-scheduled daily jobs.
//
// All waiting goes through a Clock so tests can advance time without
// sleeping.
package scheduler

import (
	"context"
	"time"
)

// Clock abstracts time.Now and time.After.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock delegates to the standard library.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep waits for d on clk or until ctx is done, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}
