// Package daemonctl launches, probes and stops the daemon process from the
// CLI. Liveness comes from the HTTP control API; termination uses the PID
// file next to the daemon lock.
package daemonctl
