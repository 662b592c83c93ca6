// Package kvstore provides the small durable key/value layer shared by the
// checkpoint store and the response cache document.
//
// Three backends are available: one JSON file per key under the state
// directory (atomic temp+rename writes), a single SQLite table, or Redis.
// Keys are slash separated ("checkpoints/<run id>", "cache/responses") and
// values are opaque bytes; callers own their own encoding and versioning.
package kvstore
