package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sead/internal/app"
	"sead/internal/ingest"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <sip-id>...",
		Short: "Archive staged packages",
		Long: `Archive one or more staged packages.

Each package's content is copied into the archive and every entity is stored
together with an ingest.complete event. Packages already in the archive are
reported and skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				out := cmd.OutOrStdout()
				results := make([]*ingest.Result, 0, len(args))
				var errs []error
				for _, id := range args {
					res, err := a.Ingest.Ingest(cmd.Context(), id)
					switch {
					case errors.Is(err, ingest.ErrAlreadyIngested):
						if !ctx.JSONMode() {
							fmt.Fprintf(out, "SIP %s already archived\n", id)
						}
						continue
					case err != nil:
						errs = append(errs, fmt.Errorf("ingest %s: %w", id, err))
						continue
					}
					results = append(results, res)
					if !ctx.JSONMode() {
						fmt.Fprintf(out, "Archived SIP %s: %d entities, %d files, %s\n",
							res.SIPID, res.Entities, res.Files, humanize.IBytes(uint64(res.Bytes)))
					}
				}
				if ctx.JSONMode() {
					if err := writeJSON(cmd, results); err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			})
		},
	}
}
