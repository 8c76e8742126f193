package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var t0 = time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC)

// ────────────────────────────────────────────────────────────────────────────
// Fake clock
// ────────────────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu           sync.Mutex
	current      time.Time
	waiters      []fakeWaiter
	totalWaiters int
}

type fakeWaiter struct {
	fireAt time.Time
	ch     chan time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{current: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, fakeWaiter{fireAt: c.current.Add(d), ch: ch})
	c.totalWaiters++
	return ch
}

// Advance moves the clock forward and fires every due waiter.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	var remaining []fakeWaiter
	for _, w := range c.waiters {
		if !c.current.Before(w.fireAt) {
			w.ch <- w.fireAt
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}

// WaitForWaiter blocks until at least n After calls were made in total.
func (c *fakeClock) WaitForWaiter(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		have := c.totalWaiters
		c.mu.Unlock()
		if have >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for waiter #%d", n)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Cron
// ────────────────────────────────────────────────────────────────────────────

func TestParseSchedule_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"1,,2 * * * *",
	} {
		if _, err := ParseSchedule(expr); err == nil {
			t.Errorf("ParseSchedule(%q) accepted an invalid expression", expr)
		}
	}
}

func TestSchedule_Next(t *testing.T) {
	tests := []struct {
		expr string
		now  time.Time
		want time.Time
	}{
		{"0 0 * * *", t0, time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)},
		{"0 8 * * *", time.Date(2026, 2, 24, 7, 59, 30, 0, time.UTC), time.Date(2026, 2, 24, 8, 0, 0, 0, time.UTC)},
		{"0 8 * * *", time.Date(2026, 2, 24, 8, 0, 0, 0, time.UTC), time.Date(2026, 2, 25, 8, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 2, 24, 10, 7, 0, 0, time.UTC), time.Date(2026, 2, 24, 10, 15, 0, 0, time.UTC)},
		// 2026-02-24 is a Tuesday; 7 means Sunday.
		{"30 9 * * 7", t0, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)},
		{"0 9 * * 1-5", time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseSchedule(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			if got := s.Next(tt.now); !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}

	never, _ := ParseSchedule("0 0 30 2 *")
	if !never.Next(t0).IsZero() {
		t.Error("impossible schedule should never fire")
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Locks
// ────────────────────────────────────────────────────────────────────────────

func TestLocks_SerializePerConversation(t *testing.T) {
	locks := NewLocks()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("!room")
			defer unlock()
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside.Load())
	}
}

func TestLocks_IndependentConversations(t *testing.T) {
	locks := NewLocks()
	unlockA := locks.Lock("!a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("!b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on !b blocked by !a")
	}
	if locks.Len() != 2 {
		t.Errorf("Len = %d", locks.Len())
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Registry
// ────────────────────────────────────────────────────────────────────────────

func TestRegistry_DeregistersOnEveryOutcome(t *testing.T) {
	r := NewRegistry(context.Background())
	var peak atomic.Int32
	r.OnChange = func(n int) {
		if int32(n) > peak.Load() {
			peak.Store(int32(n))
		}
	}

	release := make(chan struct{})
	outcomes := []func(ctx context.Context) error{
		func(ctx context.Context) error { <-release; return nil },
		func(ctx context.Context) error { <-release; return errors.New("boom") },
		func(ctx context.Context) error { <-release; panic("kaboom") },
	}
	for i, fn := range outcomes {
		id, err := r.Go("task", fn)
		if err != nil || id == "" {
			t.Fatalf("Go #%d = %q, %v", i, id, err)
		}
	}
	if r.Len() != 3 || len(r.Tasks()) != 3 {
		t.Fatalf("Len = %d", r.Len())
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len after completion = %d", r.Len())
	}
	if peak.Load() != 3 {
		t.Errorf("OnChange peak = %d", peak.Load())
	}
}

func TestRegistry_ShutdownCancelsAndRefuses(t *testing.T) {
	r := NewRegistry(context.Background())
	var cancelled atomic.Bool
	r.Go("sleeper", func(ctx context.Context) error {
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !cancelled.Load() {
		t.Error("task context not cancelled")
	}
	if _, err := r.Go("late", func(context.Context) error { return nil }); !errors.Is(err, ErrShutdown) {
		t.Errorf("Go after Shutdown = %v", err)
	}
}

func TestRegistry_IgnoresParentCancellation(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	r := NewRegistry(parent)
	cancelParent()

	ran := make(chan error, 1)
	r.Go("reminder", func(ctx context.Context) error {
		ran <- ctx.Err()
		return nil
	})
	if err := <-ran; err != nil {
		t.Fatalf("task context inherited parent cancellation: %v", err)
	}
}

func TestNewReminder(t *testing.T) {
	r := NewReminder("!room", "@alice", "alice", 90*time.Second, "stretch", t0)
	if r.ID == "" || r.DelaySeconds != 90 || !r.DueAt().Equal(t0.Add(90*time.Second)) {
		t.Fatalf("reminder = %+v", r)
	}
	if other := NewReminder("!room", "@alice", "alice", time.Second, "", t0); other.ID == r.ID {
		t.Error("ids are not unique")
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Loops
// ────────────────────────────────────────────────────────────────────────────

func TestIntervalLoop_TicksAndBacksOff(t *testing.T) {
	clk := newFakeClock(t0)
	var calls atomic.Int32
	var errs atomic.Int32
	loop := SilenceLoop(func(ctx context.Context, now time.Time) error {
		if calls.Add(1) == 1 {
			return errors.New("scan failed")
		}
		return nil
	}, clk)
	loop.OnError = func(string, error) { errs.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	clk.WaitForWaiter(t, 1)
	clk.Advance(time.Minute) // first pass fails
	waitFor(t, func() bool { return calls.Load() == 1 })

	clk.WaitForWaiter(t, 2) // backoff wait
	clk.Advance(10 * time.Second)
	clk.WaitForWaiter(t, 3) // next regular wait
	clk.Advance(59 * time.Second)
	if calls.Load() != 1 {
		t.Fatal("pass ran before the interval elapsed")
	}
	clk.Advance(time.Second)
	waitFor(t, func() bool { return calls.Load() == 2 })

	if errs.Load() != 1 {
		t.Errorf("OnError calls = %d", errs.Load())
	}
	cancel()
	<-done
}

func TestIntervalLoop_RecoversPanics(t *testing.T) {
	clk := newFakeClock(t0)
	var calls atomic.Int32
	loop := &IntervalLoop{Name: "panicky", Interval: time.Minute, Backoff: time.Second, Clock: clk,
		Iteration: func(context.Context, time.Time) error {
			calls.Add(1)
			panic("boom")
		}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	clk.WaitForWaiter(t, 1)
	clk.Advance(time.Minute)
	clk.WaitForWaiter(t, 2)
	clk.Advance(time.Second)
	clk.WaitForWaiter(t, 3)
	clk.Advance(time.Minute)
	waitFor(t, func() bool { return calls.Load() == 2 })
}

func TestCronLoop_FiresAtScheduledTimes(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 2, 24, 23, 59, 0, 0, time.UTC))
	sched, _ := ParseSchedule("0 0 * * *")
	fired := make(chan time.Time, 4)
	loop := DailyLoop(sched, func(ctx context.Context, now time.Time) error {
		fired <- now
		return errors.New("logged, not fatal")
	}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	clk.WaitForWaiter(t, 1)
	clk.Advance(time.Minute)
	select {
	case at := <-fired:
		if !at.Equal(time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("fired at %v", at)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daily loop did not fire at midnight")
	}

	clk.WaitForWaiter(t, 2)
	clk.Advance(24 * time.Hour)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("daily loop stopped after a failed run")
	}

	cancel()
	<-done
}

func TestCronLoop_NoSchedule(t *testing.T) {
	if err := (&CronLoop{Name: "x"}).Run(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}
