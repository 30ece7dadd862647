// Package lockmgr provides per-key mutual exclusion for ingest critical
// sections.
//
// A Locker is the shared primitive: MemoryLocker serializes goroutines in one
// process through a keyed mutex, FileLocker serializes processes through one
// lock file per key. A Manager scopes acquisitions to a single ingest session
// so the session can release everything it still holds when it ends.
package lockmgr
