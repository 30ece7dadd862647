package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sead/internal/app"
	"sead/internal/sip"
)

func newSIPCommand(ctx *commandContext) *cobra.Command {
	sipCmd := &cobra.Command{
		Use:   "sip",
		Short: "Manage staged submission packages",
	}

	sipCmd.AddCommand(newSIPCreateCommand(ctx))
	sipCmd.AddCommand(newSIPListCommand(ctx))
	sipCmd.AddCommand(newSIPShowCommand(ctx))
	sipCmd.AddCommand(newSIPRemoveCommand(ctx))

	return sipCmd
}

func newSIPCreateCommand(ctx *commandContext) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "create [id]",
		Short: "Stage a new package with one deliverable unit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				pkg := &sip.Package{}
				if len(args) == 1 {
					pkg.ID = strings.TrimSpace(args[0])
				}
				du := sip.DeliverableUnit{ID: a.Stager.NewID(), Title: strings.TrimSpace(title)}
				pkg.DeliverableUnits = []sip.DeliverableUnit{du}
				pkg.Manifestations = []sip.Manifestation{{
					ID:              a.Stager.NewID(),
					DeliverableUnit: du.ID,
					Type:            "original",
				}}

				id, err := a.Stager.Add(cmd.Context(), pkg)
				if err != nil {
					return err
				}
				pkg.ID = id
				if ctx.JSONMode() {
					return writeJSON(cmd, pkg)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Staged SIP %s\n", id)
				fmt.Fprintf(out, "  Deliverable unit: %s\n", du.ID)
				fmt.Fprintf(out, "  Manifestation:    %s\n", pkg.Manifestations[0].ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Title of the deliverable unit")
	return cmd
}

type sipSummary struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Files  int    `json:"files"`
	Events int    `json:"events"`
}

func newSIPListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staged and archived packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				staged, err := a.Cache.Keys(cmd.Context())
				if err != nil {
					return err
				}
				ids, err := a.Stager.Keys(cmd.Context())
				if err != nil {
					return err
				}

				summaries := make([]sipSummary, 0, len(ids))
				for _, id := range ids {
					pkg, err := a.Stager.Get(cmd.Context(), id)
					if err != nil {
						return err
					}
					state := "archived"
					if slices.Contains(staged, id) {
						state = "staged"
					}
					summaries = append(summaries, sipSummary{ID: id, State: state, Files: len(pkg.Files), Events: len(pkg.Events)})
				}

				if ctx.JSONMode() {
					return writeJSON(cmd, summaries)
				}
				if len(summaries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No packages found")
					return nil
				}
				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					rows = append(rows, []string{s.ID, s.State, strconv.Itoa(s.Files), strconv.Itoa(s.Events)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"SIP", "State", "Files", "Events"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newSIPShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the entities of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				pkg, err := a.Stager.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, pkg)
				}

				rows := make([][]string, 0, len(pkg.EntityIDs()))
				for _, du := range pkg.DeliverableUnits {
					rows = append(rows, []string{string(sip.KindDeliverableUnit), du.ID, du.Title})
				}
				for _, m := range pkg.Manifestations {
					rows = append(rows, []string{string(sip.KindManifestation), m.ID, fmt.Sprintf("%s, %d files", m.Type, len(m.Files))})
				}
				for _, f := range pkg.Files {
					rows = append(rows, []string{string(sip.KindFile), f.ID, f.Name})
				}
				for _, c := range pkg.Collections {
					rows = append(rows, []string{string(sip.KindCollection), c.ID, c.Title})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "SIP %s\n\n", pkg.ID)
				fmt.Fprint(out, renderTable([]string{"Kind", "ID", "Detail"}, rows, nil))
				fmt.Fprintf(out, "\n%d events\n", len(pkg.Events))
				return nil
			})
		},
	}
}

func newSIPRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Discard a staged package and its uploaded content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withApp(func(a *app.App) error {
				err := a.Events.View(cmd.Context(), id, func(*sip.Package) error {
					if err := a.Cache.Remove(cmd.Context(), id); err != nil {
						return err
					}
					return a.Content.RemoveSIP(cmd.Context(), id)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed staged SIP %s\n", id)
				return nil
			})
		},
	}
}
