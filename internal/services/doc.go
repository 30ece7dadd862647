// Package services defines shared utilities consumed by the ingest components.
//
// Key responsibilities:
//   - Context helpers that stamp SIP identifiers, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures as
//     validation, not-found, conflict, or transient so callers can decide
//     whether a retry makes sense.
//
// Use these helpers when wiring new ingest logic so error handling and
// observability stay uniform across the pipeline.
package services
