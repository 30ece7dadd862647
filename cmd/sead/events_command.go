package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"sead/internal/app"
	"sead/internal/sip"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var (
		types   []string
		targets []string
	)

	cmd := &cobra.Command{
		Use:   "events <sip-id>",
		Short: "List provenance events of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				var (
					evs []sip.Event
					err error
				)
				if len(targets) > 0 {
					evs, err = a.Events.EventsForTargets(cmd.Context(), args[0], targets...)
					evs = filterTypes(evs, types)
				} else {
					evs, err = a.Events.Events(cmd.Context(), args[0], types...)
				}
				if err != nil {
					return err
				}

				if ctx.JSONMode() {
					if evs == nil {
						evs = []sip.Event{}
					}
					return writeJSON(cmd, evs)
				}
				if len(evs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No events found")
					return nil
				}
				rows := make([][]string, 0, len(evs))
				for _, ev := range evs {
					rows = append(rows, []string{
						ev.Date.Local().Format(time.DateTime),
						ev.Type,
						ev.Outcome,
						strconv.Itoa(len(ev.Targets)),
						ev.ID,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Date", "Type", "Outcome", "Targets", "ID"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Only show events of these types")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "Only show events targeting these entity ids")
	return cmd
}

func filterTypes(evs []sip.Event, types []string) []sip.Event {
	if len(types) == 0 {
		return evs
	}
	pkg := sip.Package{Events: evs}
	return pkg.EventsOfType(types...)
}
