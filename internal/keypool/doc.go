// Package keypool rotates API credentials for each provider.
//
// A Pool hands out the non-exhausted key with the lowest usage count (ties go
// to the earliest key in configuration order), records successful use, and
// quarantines keys that reported a quota failure until the next daily reset.
// An empty selection is reported with ok == false so callers can fall through
// to the next provider; the pool never panics or errors on exhaustion.
package keypool
