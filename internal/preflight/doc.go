// Package preflight provides readiness checks for the directories, disk space
// and archive database that SEAD depends on.
//
// The CLI "sead check" command runs RunAll and renders each Result. Checks
// never modify state.
package preflight
