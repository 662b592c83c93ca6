// Package notifications publishes run lifecycle alerts to ntfy.
//
// NewService returns a no-op notifier when no topic is configured, so the
// workflow manager can call it unconditionally.
package notifications
