package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sead/internal/app"
	"sead/internal/staging"
	"sead/internal/textutil"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage staged upload content",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

type stagingDirView struct {
	staging.DirInfo
	SIPID string `json:"sip_id,omitempty"`
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staging directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				dirs, err := staging.ListDirectories(a.Content.Root())
				if err != nil {
					return fmt.Errorf("list staging directories: %w", err)
				}
				owners, err := stagedOwners(cmd, a)
				if err != nil {
					return err
				}

				views := make([]stagingDirView, 0, len(dirs))
				var totalSize int64
				for _, dir := range dirs {
					views = append(views, stagingDirView{DirInfo: dir, SIPID: owners[dir.Name]})
					totalSize += dir.Size
				}

				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{
						"staging_dir":      a.Content.Root(),
						"directories":      views,
						"total_size_bytes": totalSize,
					})
				}
				out := cmd.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintln(out, "No staging directories found")
					return nil
				}

				fmt.Fprintf(out, "Staging directory: %s\n\n", a.Content.Root())
				rows := make([][]string, 0, len(views))
				for _, view := range views {
					owner := view.SIPID
					if owner == "" {
						owner = "(orphaned)"
					}
					rows = append(rows, []string{
						owner,
						formatAge(time.Since(view.ModTime)),
						strconv.Itoa(view.Files),
						humanize.IBytes(uint64(view.Size)),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"SIP", "Age", "Files", "Size"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				))
				fmt.Fprintf(out, "\nTotal: %d directories, %s\n", len(views), humanize.IBytes(uint64(totalSize)))
				return nil
			})
		},
	}
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var stale bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove orphaned staging directories",
		Long: `Remove staging directories whose package is no longer staged.

Use --stale to also remove directories untouched for longer than
staging.stale_hours, even when their package is still staged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				owners, err := stagedOwners(cmd, a)
				if err != nil {
					return err
				}
				active := make(map[string]struct{}, len(owners))
				for _, id := range owners {
					active[id] = struct{}{}
				}

				result := staging.CleanOrphaned(cmd.Context(), a.Content.Root(), active, a.Logger)
				if stale {
					more := staging.CleanStale(cmd.Context(), a.Content.Root(), a.Config.StaleAge(), a.Logger)
					result.Removed = append(result.Removed, more.Removed...)
					result.Errors = append(result.Errors, more.Errors...)
				}

				if ctx.JSONMode() {
					errs := make([]string, 0, len(result.Errors))
					for _, e := range result.Errors {
						errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
					}
					return writeJSON(cmd, map[string]any{
						"removed": result.Removed,
						"errors":  errs,
					})
				}
				out := cmd.OutOrStdout()
				if len(result.Removed) == 0 && len(result.Errors) == 0 {
					fmt.Fprintln(out, "No staging directories to clean")
					return nil
				}
				for _, path := range result.Removed {
					fmt.Fprintf(out, "Removed %s\n", path)
				}
				for _, e := range result.Errors {
					fmt.Fprintf(out, "Failed to remove %s: %v\n", e.Path, e.Error)
				}
				if len(result.Errors) > 0 {
					return fmt.Errorf("%d staging directories could not be removed", len(result.Errors))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&stale, "stale", false, "Also remove directories older than the configured stale age")
	return cmd
}

// stagedOwners maps staging directory names to the staged SIP owning them.
func stagedOwners(cmd *cobra.Command, a *app.App) (map[string]string, error) {
	ids, err := a.Cache.Keys(cmd.Context())
	if err != nil {
		return nil, err
	}
	owners := make(map[string]string, len(ids))
	for _, id := range ids {
		owners[textutil.PathKey(id)] = id
	}
	return owners, nil
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
