// Package config loads, normalizes, and validates mio configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TINYPNG_API_KEY. The Config type centralizes every knob the daemon and CLI
// need: the media library root, per-format quality, backend toggles, remote
// provider credentials and the resource ceilings applied to a transcode.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
