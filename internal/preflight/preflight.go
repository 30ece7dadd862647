package preflight

import (
	"context"

	"sead/internal/app"
	"sead/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every applicable check against an opened stack.
func RunAll(ctx context.Context, a *app.App) []Result {
	if a == nil || a.Config == nil {
		return nil
	}
	cfg := a.Config

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Archive directory", cfg.Paths.ArchiveDir),
		CheckDirectoryAccess("Archive content", cfg.ArchiveContentDir()),
	}
	if cfg.Locks.Backend == config.LockBackendFile {
		results = append(results, CheckDirectoryAccess("Lock directory", cfg.Paths.LockDir))
	}
	results = append(results, CheckFreeSpace("Staging free space", a.Content.FreeSpace, a.Content.FreeSpaceFloor()))
	results = append(results, CheckFixity(cfg.FixityAlgorithms()))
	results = append(results, CheckArchive(ctx, a.Store))
	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
