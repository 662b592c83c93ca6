// Package ratelimit enforces per-provider request ceilings and adaptive
// spacing between calls.
//
// Window tracks minute and hour counters against configured ceilings and a
// pause-until instant set when a ceiling is hit. Throttle tracks the minimum
// delay between calls, escalating through fixed steps and then
// multiplicatively on observed 429 responses, and dropping back to the floor
// after a success. Both are advisory: they report decisions and durations,
// and the caller decides whether to sleep or surface "retry later".
package ratelimit
