// Package archive persists archived entities in SQLite and answers the index
// queries the read-only stagers rely on.
//
// Every entity (deliverable unit, manifestation, file, collection, event, or a
// whole serialized staged package) is stored as a JSON body keyed by an opaque
// identifier. Events additionally populate the indexed event_type and
// event_outcome columns plus one event_targets row per target, so callers can
// find, say, the ingest.complete event whose outcome names a SIP and then load
// everything it targets.
//
// Schema changes bump the version in schema.go; the archive refuses to open a
// database written with a different version instead of guessing at a
// migration.
package archive
