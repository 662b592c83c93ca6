// Package main hosts the autovideo CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP calls
// against the daemon's control API: starting, pausing, resuming and
// cancelling runs, inspecting checkpoints and the response cache, tailing
// logs, and scaffolding configuration. It centralizes configuration
// resolution and client construction so subcommands can focus on output.
package main
