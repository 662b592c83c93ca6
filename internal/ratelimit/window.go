package ratelimit

import (
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// Denial reasons reported by Window.Check.
const (
	ReasonPaused        = "paused"
	ReasonMinuteCeiling = "minute_ceiling"
	ReasonHourCeiling   = "hour_ceiling"
)

// Decision is the outcome of a ceiling check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Window counts confirmed calls for one provider.
type Window struct {
	maxPerMinute int
	maxPerHour   int
	now          func() time.Time
	loc          *time.Location

	mu          sync.Mutex
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	pauseUntil  time.Time
	totalToday  int
	day         string
}

// NewWindow creates a window. A non-positive ceiling disables that limit.
func NewWindow(maxPerMinute, maxPerHour int, now func() time.Time, loc *time.Location) *Window {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	current := now()
	return &Window{
		maxPerMinute: maxPerMinute,
		maxPerHour:   maxPerHour,
		now:          now,
		loc:          loc,
		minuteStart:  current,
		hourStart:    current,
		day:          current.In(loc).Format(dateLayout),
	}
}

func (w *Window) rollLocked(now time.Time) {
	if now.Sub(w.minuteStart) >= time.Minute {
		w.minuteStart = now
		w.minuteCount = 0
	}
	if now.Sub(w.hourStart) >= time.Hour {
		w.hourStart = now
		w.hourCount = 0
	}
	if day := now.In(w.loc).Format(dateLayout); day != w.day {
		w.day = day
		w.totalToday = 0
	}
}

// Check reports whether a call may start now. Hitting a ceiling pauses the
// window until the breached period ends.
func (w *Window) Check() Decision {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.rollLocked(now)

	if now.Before(w.pauseUntil) {
		return Decision{Reason: ReasonPaused, RetryAfter: w.pauseUntil.Sub(now)}
	}
	if w.maxPerMinute > 0 && w.minuteCount >= w.maxPerMinute {
		w.pauseUntil = w.minuteStart.Add(time.Minute)
		return Decision{Reason: ReasonMinuteCeiling, RetryAfter: w.pauseUntil.Sub(now)}
	}
	if w.maxPerHour > 0 && w.hourCount >= w.maxPerHour {
		w.pauseUntil = w.hourStart.Add(time.Hour)
		return Decision{Reason: ReasonHourCeiling, RetryAfter: w.pauseUntil.Sub(now)}
	}
	return Decision{Allowed: true}
}

// Increment records one confirmed successful call.
func (w *Window) Increment() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollLocked(w.now())
	w.minuteCount++
	w.hourCount++
	w.totalToday++
}

// WindowSnapshot is a diagnostic view of a Window.
type WindowSnapshot struct {
	MinuteCount  int       `json:"minute_count"`
	HourCount    int       `json:"hour_count"`
	MaxPerMinute int       `json:"max_per_minute"`
	MaxPerHour   int       `json:"max_per_hour"`
	PauseUntil   time.Time `json:"pause_until,omitzero"`
	TotalToday   int       `json:"total_today"`
}

// Snapshot returns the current counters.
func (w *Window) Snapshot() WindowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.rollLocked(now)
	snap := WindowSnapshot{
		MinuteCount:  w.minuteCount,
		HourCount:    w.hourCount,
		MaxPerMinute: w.maxPerMinute,
		MaxPerHour:   w.maxPerHour,
		TotalToday:   w.totalToday,
	}
	if now.Before(w.pauseUntil) {
		snap.PauseUntil = w.pauseUntil
	}
	return snap
}
