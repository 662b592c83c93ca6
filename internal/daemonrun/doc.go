// Package daemonrun assembles the daemon's component graph (state store,
// run history, response cache, key pools, rate limiters, provider gateway,
// stage registry and workflow manager) and runs it until a signal arrives.
package daemonrun
