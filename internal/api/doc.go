// Package api defines wire-format types and converters for the HTTP control
// surface. It translates workflow snapshots, checkpoints, cache statistics
// and provider diagnostics into transport-friendly DTOs that the CLI and
// other consumers can render without coupling to internal types.
//
// # Key Types
//
// Run: transport representation of a run with per-stage progress, stage
// results and recent log events.
//
// Checkpoint: the persisted resume point of a run plus the stage a restart
// would resume at.
//
// DaemonStatus: aggregated runtime information including workflow summary,
// provider key and rate-limit state, cache statistics and preflight checks.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Stage results are passed through as json.RawMessage to avoid
// double-encoding.
package api
