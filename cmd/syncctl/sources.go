package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leozw/uptime-sync/internal/app"
	"github.com/leozw/uptime-sync/internal/db"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage status-page sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			sources, err := a.Repo.ListSources(ctx)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(sources)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tURL\tSLUG")
			for _, s := range sources {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.URL, s.Slug)
			}
			return w.Flush()
		})
	},
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add NAME URL SLUG",
	Short: "Add a source",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			now := db.Now()
			src := &db.Source{
				ID:        uuid.New().String(),
				Name:      args[0],
				URL:       strings.TrimRight(args[1], "/"),
				Slug:      args[2],
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := a.Repo.CreateSource(ctx, src); err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(src)
			}
			fmt.Printf("✓ Source %s created\n", src.ID)
			return nil
		})
	},
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove SOURCE_ID",
	Short: "Remove a source with its monitors, heartbeats and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Repo.DeleteSource(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Source %s removed\n", args[0])
			return nil
		})
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesRemoveCmd)
}
