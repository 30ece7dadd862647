// Package sip models Submission Information Packages: the aggregate of
// deliverable units, manifestations, files, collections, and provenance
// events that moves through staging and ingest.
//
// A Package is mutable while staged. Events attached to it are append-only:
// once an event is recorded it is never rewritten, only accompanied by newer
// events. Stagers hand out deep copies (Clone) so one caller's edits never
// leak into another caller's view without an explicit update.
package sip
