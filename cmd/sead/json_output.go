package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"sead/internal/app"
	"sead/internal/preflight"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// checkReport is what sead check prints, in either output mode.
type checkReport struct {
	Passed  bool               `json:"passed"`
	Checks  []preflight.Result `json:"checks"`
	Runtime runtimeSummary     `json:"runtime"`
}

type runtimeSummary struct {
	LockBackend   string   `json:"lock_backend"`
	SharedStaging bool     `json:"shared_staging"`
	CacheCapacity int      `json:"cache_capacity"`
	CachedSIPs    int      `json:"cached_sips"`
	Fixity        []string `json:"fixity"`
}

func newCheckReport(a *app.App, results []preflight.Result) checkReport {
	stats := a.Cache.Stats()
	fixity := a.Config.FixityAlgorithms()
	if fixity == nil {
		fixity = []string{}
	}
	return checkReport{
		Passed: !preflight.Failed(results),
		Checks: results,
		Runtime: runtimeSummary{
			LockBackend:   a.Config.Locks.Backend,
			SharedStaging: a.Cache.Shared(),
			CacheCapacity: stats.Capacity,
			CachedSIPs:    stats.Len,
			Fixity:        fixity,
		},
	}
}
