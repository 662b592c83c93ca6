// Package client talks to the autovideo daemon over its HTTP control API.
//
// Each method maps to one endpoint and decodes the shared DTOs from
// internal/api. Non-2xx responses surface as *APIError so callers can branch
// on the HTTP status or the error kind, while transport failures are reported
// by IsUnavailable so the CLI can fall back to offline views.
package client
