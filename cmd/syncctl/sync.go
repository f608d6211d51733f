package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leozw/uptime-sync/internal/app"
	"github.com/leozw/uptime-sync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync one source, or every source when --source is not given",
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, _ := cmd.Flags().GetString("source")

		return withApp(func(ctx context.Context, a *app.App) error {
			var (
				results []*syncer.Result
				err     error
			)
			if sourceID != "" {
				var r *syncer.Result
				r, err = a.Scheduler.SyncSourceNow(ctx, sourceID)
				if r != nil {
					results = []*syncer.Result{r}
				}
			} else {
				results, err = a.Scheduler.SyncAllSourcesNow(ctx)
			}
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				return printJSON(results)
			}

			failed := 0
			for _, r := range results {
				if r.Success {
					fmt.Printf("✓ %s  monitors=%d heartbeats=%d  %s\n",
						r.SourceID, r.MonitorsUpdated, r.HeartbeatsFetched,
						time.Duration(r.DurationMs)*time.Millisecond)
					continue
				}
				failed++
				fmt.Printf("✗ %s  %s\n", r.SourceID, r.Error)
			}
			fmt.Printf("\n%d synced, %d failed\n", len(results)-failed, failed)

			if failed > 0 {
				return fmt.Errorf("%d of %d syncs failed", failed, len(results))
			}
			return nil
		})
	},
}

func init() {
	syncCmd.Flags().String("source", "", "id of the source to sync")
}
