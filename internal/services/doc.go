// Package services defines shared utilities consumed by the workflow stages,
// the provider gateway, and the daemon.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, provider names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that let callers classify
//     failures (quota, rate limit, transient, validation) with errors.Is.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
