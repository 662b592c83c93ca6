// Package gateway wraps every provider call with the response cache, the
// per-provider ceilings and throttle, and credential rotation.
//
// For each provider in the configured fallback order the gateway checks the
// ceiling, acquires a key, honours the throttle, performs the call under a
// timeout and classifies the outcome. Quota and rate-limit failures rotate to
// the next key (each key at most once per call) and then to the next
// provider; transient failures retry on the same key with backoff and then
// propagate; validation failures propagate immediately. When nothing
// succeeds the caller receives a *CallError listing every attempt.
package gateway
