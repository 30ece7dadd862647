package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sead/internal/app"
	"sead/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify directories, disk space and the archive database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				report := newCheckReport(a, preflight.RunAll(cmd.Context(), a))
				if ctx.JSONMode() {
					if err := writeJSON(cmd, report); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					for _, line := range renderCheckReport(report, shouldColorize(out)) {
						fmt.Fprintln(out, line)
					}
				}
				if !report.Passed {
					return errors.New("one or more checks failed")
				}
				return nil
			})
		},
	}
}
