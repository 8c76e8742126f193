package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultSilenceInterval = time.Minute
	defaultLoopBackoff     = 10 * time.Second
)

// IterationFunc is one pass of a loop. now is the clock's time at the start
// of the pass.
type IterationFunc func(ctx context.Context, now time.Time) error

// IntervalLoop runs Iteration every Interval. A failing or panicking pass is
// logged and followed by Backoff before the next regular wait.
type IntervalLoop struct {
	Name      string
	Interval  time.Duration
	Backoff   time.Duration
	Clock     Clock
	Iteration IterationFunc
	// OnError, when set, is called after every failed pass.
	OnError func(name string, err error)
}

// SilenceLoop returns the loop that scans for quiet conversations every
// minute.
func SilenceLoop(scan IterationFunc, clk Clock) *IntervalLoop {
	return &IntervalLoop{
		Name:      "silence",
		Interval:  defaultSilenceInterval,
		Backoff:   defaultLoopBackoff,
		Clock:     clk,
		Iteration: scan,
	}
}

// Run blocks until ctx is done.
func (l *IntervalLoop) Run(ctx context.Context) error {
	clk := l.Clock
	if clk == nil {
		clk = RealClock{}
	}
	interval := l.Interval
	if interval <= 0 {
		interval = defaultSilenceInterval
	}
	backoff := l.Backoff
	if backoff <= 0 {
		backoff = defaultLoopBackoff
	}

	slog.Info("scheduler: loop started", "loop", l.Name, "interval", interval)
	for {
		if err := Sleep(ctx, clk, interval); err != nil {
			slog.Info("scheduler: loop stopped", "loop", l.Name)
			return nil
		}
		if err := runIteration(ctx, l.Name, clk.Now(), l.Iteration); err != nil {
			slog.Error("scheduler: loop iteration failed", "loop", l.Name, "err", err)
			if l.OnError != nil {
				l.OnError(l.Name, err)
			}
			if err := Sleep(ctx, clk, backoff); err != nil {
				return nil
			}
		}
	}
}

// CronLoop runs Iteration at every minute matched by Schedule.
type CronLoop struct {
	Name      string
	Schedule  *Schedule
	Clock     Clock
	Iteration IterationFunc
	OnError   func(name string, err error)
}

// DailyLoop returns a CronLoop named "daily".
func DailyLoop(sched *Schedule, reset IterationFunc, clk Clock) *CronLoop {
	return &CronLoop{Name: "daily", Schedule: sched, Clock: clk, Iteration: reset}
}

// MorningLoop returns a CronLoop named "morning".
func MorningLoop(sched *Schedule, greet IterationFunc, clk Clock) *CronLoop {
	return &CronLoop{Name: "morning", Schedule: sched, Clock: clk, Iteration: greet}
}

// Run blocks until ctx is done. Errors are logged and the loop waits for
// the next scheduled time.
func (l *CronLoop) Run(ctx context.Context) error {
	if l.Schedule == nil {
		return fmt.Errorf("scheduler: %s loop has no schedule", l.Name)
	}
	clk := l.Clock
	if clk == nil {
		clk = RealClock{}
	}

	slog.Info("scheduler: cron loop started", "loop", l.Name, "schedule", l.Schedule.String())
	for {
		next := l.Schedule.Next(clk.Now())
		if next.IsZero() {
			return fmt.Errorf("scheduler: %s loop: schedule %q never fires", l.Name, l.Schedule.String())
		}
		slog.Debug("scheduler: next run", "loop", l.Name, "at", next)
		if err := Sleep(ctx, clk, next.Sub(clk.Now())); err != nil {
			slog.Info("scheduler: loop stopped", "loop", l.Name)
			return nil
		}
		if err := runIteration(ctx, l.Name, clk.Now(), l.Iteration); err != nil {
			slog.Error("scheduler: loop iteration failed", "loop", l.Name, "err", err)
			if l.OnError != nil {
				l.OnError(l.Name, err)
			}
		}
	}
}

// runIteration calls fn and turns a panic into an error.
func runIteration(ctx context.Context, name string, now time.Time, fn IterationFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: %s iteration panicked: %v", name, p)
		}
	}()
	return fn(ctx, now)
}
