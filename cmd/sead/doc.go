// Command sead stages submission packages, records their provenance and
// ingests them into the archive.
//
// Every subcommand opens the configured archive for the duration of the call
// and flushes cached package changes before exiting. Pass --json for machine
// readable output.
package main
