// Package config loads, normalizes, and validates SEAD configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SEAD_STAGING_DIR. The Config type centralizes every knob the ingest tooling
// needs so staging, archive, and lock directories are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical fixity algorithm names, and clear validation
// errors.
package config
