// Package config loads, normalizes, and validates autovideo configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GEMINI_API_KEYS and OPENAI_API_KEYS. The Config type centralizes every knob
// the daemon and CLI need: stage order, checkpoint and cache storage, and
// per-provider credentials and quotas.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
