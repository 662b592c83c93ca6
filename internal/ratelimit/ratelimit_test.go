package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"autovideo/internal/config"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func TestWindowMinuteCeiling(t *testing.T) {
	c := newClock()
	w := NewWindow(3, 0, c.Now, nil)

	for i := range 3 {
		if d := w.Check(); !d.Allowed {
			t.Fatalf("call %d unexpectedly denied: %+v", i, d)
		}
		w.Increment()
	}

	c.now = c.now.Add(20 * time.Second)
	d := w.Check()
	if d.Allowed || d.Reason != ReasonMinuteCeiling {
		t.Fatalf("expected minute ceiling, got %+v", d)
	}
	if d.RetryAfter != 40*time.Second {
		t.Fatalf("expected pause for remaining window, got %s", d.RetryAfter)
	}

	c.now = c.now.Add(10 * time.Second)
	if d := w.Check(); d.Allowed || d.Reason != ReasonPaused || d.RetryAfter != 30*time.Second {
		t.Fatalf("expected paused decision, got %+v", d)
	}

	c.now = c.now.Add(30 * time.Second)
	if d := w.Check(); !d.Allowed {
		t.Fatalf("expected window reset after a minute, got %+v", d)
	}
}

func TestWindowNeverExceedsCeilingWithinPeriod(t *testing.T) {
	c := newClock()
	w := NewWindow(5, 0, c.Now, nil)
	confirmed := 0
	for range 50 {
		if w.Check().Allowed {
			w.Increment()
			confirmed++
		}
		c.now = c.now.Add(time.Second)
		if c.now.Sub(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) >= time.Minute {
			break
		}
	}
	if confirmed != 5 {
		t.Fatalf("expected exactly 5 confirmed calls within the minute, got %d", confirmed)
	}
}

func TestWindowHourCeilingAndDailyTotal(t *testing.T) {
	c := newClock()
	w := NewWindow(0, 2, c.Now, time.UTC)
	w.Increment()
	w.Increment()
	d := w.Check()
	if d.Allowed || d.Reason != ReasonHourCeiling || d.RetryAfter != time.Hour {
		t.Fatalf("expected hour ceiling, got %+v", d)
	}
	if w.Snapshot().TotalToday != 2 {
		t.Fatalf("expected total_today 2")
	}

	c.now = c.now.Add(14 * time.Hour) // next day
	if d := w.Check(); !d.Allowed {
		t.Fatalf("expected reset after the hour, got %+v", d)
	}
	if total := w.Snapshot().TotalToday; total != 0 {
		t.Fatalf("expected daily total reset, got %d", total)
	}
}

func TestThrottleEscalatesThenResets(t *testing.T) {
	th := NewThrottle(ThrottleConfig{}, nil)
	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
		90 * time.Second,
		135 * time.Second,
		202500 * time.Millisecond,
		300 * time.Second,
		300 * time.Second,
	}
	for i, expected := range want {
		if got := th.Handle429(); got != expected {
			t.Fatalf("signal %d: got %s want %s", i+1, got, expected)
		}
	}
	th.ResetOnSuccess()
	if th.Delay() != DefaultFloor {
		t.Fatalf("expected floor after success, got %s", th.Delay())
	}
	if th.Signals() != 0 {
		t.Fatalf("expected signals cleared")
	}
	if got := th.Handle429(); got != 10*time.Second {
		t.Fatalf("expected escalation to restart at first step, got %s", got)
	}
}

func TestThrottleWaitHonoursSpacing(t *testing.T) {
	c := newClock()
	th := NewThrottle(ThrottleConfig{Floor: 2 * time.Second}, c.Now)
	if th.Wait() != 0 {
		t.Fatal("first call should not wait")
	}
	th.MarkCall()
	c.now = c.now.Add(500 * time.Millisecond)
	if got := th.Wait(); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s wait, got %s", got)
	}
	th.Handle429()
	if got := th.Wait(); got != 9500*time.Millisecond {
		t.Fatalf("expected escalated wait, got %s", got)
	}
	c.now = c.now.Add(10 * time.Second)
	if th.Wait() != 0 {
		t.Fatal("expected no wait after delay elapsed")
	}
}

func TestSleepWithContextCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepWithContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if err := SleepWithContext(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep should return nil, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	if got := Backoff(time.Second, 5*time.Second, 1); got != time.Second {
		t.Fatalf("attempt 1: %s", got)
	}
	if got := Backoff(time.Second, 5*time.Second, 3); got != 4*time.Second {
		t.Fatalf("attempt 3: %s", got)
	}
	if got := Backoff(time.Second, 5*time.Second, 10); got != 5*time.Second {
		t.Fatalf("attempt 10 should cap: %s", got)
	}
}

func TestRegistryFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Gemini.Enabled = false
	reg := NewRegistryFromConfig(&cfg, nil)
	if _, ok := reg.Limiter("gemini"); ok {
		t.Fatal("disabled provider must not get a limiter")
	}
	limiter, ok := reg.Limiter("openai")
	if !ok {
		t.Fatal("expected openai limiter")
	}
	if limiter.Throttle.Delay() != time.Second {
		t.Fatalf("unexpected floor %s", limiter.Throttle.Delay())
	}
	if snaps := reg.Snapshots(); len(snaps) != 1 || snaps[0].Window.MaxPerMinute != cfg.Providers.OpenAI.MaxPerMinute {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}
}
