// Package textutil turns user-supplied names and identifiers into safe
// filesystem path segments.
//
// SanitizeFileName keeps names readable while PathKey produces stable
// directory and lock-file names from arbitrary keys.
package textutil
