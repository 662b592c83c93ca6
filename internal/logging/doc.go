// Package logging assembles structured slog loggers and formatting helpers used
// across autovideo services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage and gateway code can
// automatically tag log lines with run IDs, stages, and provider names. A
// bounded StreamHub keeps recent events in memory so run status can include
// the run's own log lines. The package also provides a no-op logger for tests
// and wiring code that cannot fail.
package logging
