package ratelimit

import (
	"sync"
	"time"
)

// Default throttle settings.
const (
	DefaultFloor      = time.Second
	DefaultMultiplier = 1.5
	DefaultMaxDelay   = 5 * time.Minute
)

// DefaultSteps is the fixed escalation sequence applied before multiplying.
var DefaultSteps = []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}

// ThrottleConfig shapes the adaptive delay.
type ThrottleConfig struct {
	Floor      time.Duration
	Steps      []time.Duration
	Multiplier float64
	Max        time.Duration
}

func (c ThrottleConfig) withDefaults() ThrottleConfig {
	if c.Floor <= 0 {
		c.Floor = DefaultFloor
	}
	if len(c.Steps) == 0 {
		c.Steps = DefaultSteps
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Max <= 0 {
		c.Max = DefaultMaxDelay
	}
	return c
}

// Throttle enforces a self-adjusting minimum spacing between calls.
type Throttle struct {
	cfg ThrottleConfig
	now func() time.Time

	mu       sync.Mutex
	delay    time.Duration
	signals  int
	lastCall time.Time
}

// NewThrottle creates a throttle at its floor delay.
func NewThrottle(cfg ThrottleConfig, now func() time.Time) *Throttle {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Throttle{cfg: cfg, now: now, delay: cfg.Floor}
}

// Wait returns how long the caller should sleep before the next call.
func (t *Throttle) Wait() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastCall.IsZero() {
		return 0
	}
	next := t.lastCall.Add(t.delay)
	now := t.now()
	if !now.Before(next) {
		return 0
	}
	return next.Sub(now)
}

// MarkCall records that a call started now.
func (t *Throttle) MarkCall() {
	t.mu.Lock()
	t.lastCall = t.now()
	t.mu.Unlock()
}

// Handle429 escalates the delay and returns the new value.
func (t *Throttle) Handle429() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signals++
	var next time.Duration
	if t.signals <= len(t.cfg.Steps) {
		next = t.cfg.Steps[t.signals-1]
	} else {
		next = time.Duration(float64(t.delay) * t.cfg.Multiplier)
	}
	next = max(next, t.cfg.Floor)
	next = min(next, t.cfg.Max)
	t.delay = next
	return next
}

// ResetOnSuccess drops the delay back to the floor.
func (t *Throttle) ResetOnSuccess() {
	t.mu.Lock()
	t.signals = 0
	t.delay = t.cfg.Floor
	t.mu.Unlock()
}

// Delay returns the current spacing.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

// Signals returns the number of throttle signals since the last success.
func (t *Throttle) Signals() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signals
}
