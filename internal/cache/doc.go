// Package cache provides the TTL response cache placed in front of expensive,
// idempotent provider calls.
//
// Entries are keyed by a fingerprint of the logical endpoint and its
// parameters, grouped into scopes that never share entries. Each entry keeps
// the TTL resolved at write time (explicit override, then content rules,
// then the global default) and is evicted on the first read past expiry.
// The whole cache is flushed periodically to the kvstore as a single
// versioned document and reloaded, with an immediate sweep, at startup.
// The in-memory map stays authoritative when a flush fails.
package cache
