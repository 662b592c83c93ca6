// Package workflow runs pipeline runs through their configured stages.
//
// The Manager owns every Run. A run moves idle -> processing, may toggle
// between processing and paused, and ends cancelled, completed or failed.
// Only one run may be processing or paused at a time; a second Start is
// rejected with services.ErrConflict rather than queued.
//
// Each run executes on its own goroutine. At start the manager loads the
// run's checkpoint (if any and if valid) and resumes at the first stage the
// checkpoint has not completed. After every successful stage the manager
// merges the stage result under the stage name and writes a checkpoint; a
// failed stage writes a "<stage>_failed" checkpoint before the run is marked
// failed; a completed run deletes its checkpoint.
//
// Pause and cancel are cooperative. The executor checks them at stage
// boundaries and whenever a stage calls Input.Checkpoint. While paused it
// waits in bounded intervals (workflow.pause_poll_interval_ms) or until
// resumed. Cancellation surfaces as ErrCancelled. Daemon shutdown interrupts
// the run without a failure checkpoint so the next Start with the same id
// resumes it.
//
// Every transition is mirrored into the runstore so status and listings
// survive a restart.
package workflow
