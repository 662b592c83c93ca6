// Package runstore keeps a SQLite history of pipeline runs so status and
// listings survive a daemon restart.
//
// The workflow manager mirrors every state transition into the store. Rows
// hold the run's stage list, per-stage progress, configuration and last
// error; stage results live in checkpoints, not here. On startup the daemon
// calls ReclaimInterrupted to mark runs left processing or paused by a dead
// process as cancelled.
package runstore
