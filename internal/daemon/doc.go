// Package daemon coordinates the long-running autovideo process.
//
// It wires configuration, the workflow manager, checkpoint and run history
// stores, the response cache and provider diagnostics into a single lifecycle
// with flock-based locking to prevent multiple instances. On start it marks
// runs left active by a previous process as interrupted, reloads the cache
// document and starts the periodic cache flusher; on stop it interrupts the
// active run, flushes the cache and releases the lock.
//
// Keep orchestration logic here: individual stages live in internal/stages
// and run control lives in internal/workflow, while the daemon focuses on
// startup, shutdown and the HTTP control surface.
package daemon
