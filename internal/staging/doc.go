// Package staging holds uploaded content bytes until ingest archives or
// abandons them.
//
// DirStager keeps one directory per SIP under the staging root. Each staged
// file is stored under a generated id next to a JSON sidecar describing it.
// CleanStale and CleanOrphaned reclaim directories left behind by abandoned
// submissions.
package staging
