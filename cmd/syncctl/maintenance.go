package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leozw/uptime-sync/internal/app"
	"github.com/leozw/uptime-sync/internal/metrics"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete sync history and metrics older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		retention, _ := cmd.Flags().GetDuration("older-than")

		return withApp(func(ctx context.Context, a *app.App) error {
			if retention <= 0 {
				retention = a.Config.Scheduler.Retention
			}
			res, err := a.Purger.PurgeOlderThan(ctx, retention)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(res)
			}
			fmt.Printf("✓ Removed %d sync runs, %d metric samples, %d cache entries older than %s\n",
				res.SyncRuns, res.SyncMetrics, res.CacheEntries, retention)
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		// app.New migrates on connect.
		return withApp(func(ctx context.Context, a *app.App) error {
			fmt.Printf("✓ Database schema is up to date (%s)\n", a.DB.DriverName())
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler settings, sync statistics and health",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetString("window")

		return withApp(func(ctx context.Context, a *app.App) error {
			w, err := metrics.ParseWindow(window)
			if err != nil {
				return err
			}
			summary, err := a.Stats.Summary(ctx, w)
			if err != nil {
				return err
			}
			health, err := a.Stats.Health(ctx)
			if err != nil {
				return err
			}
			cfg := a.Scheduler.Config()

			if jsonOutput(cmd) {
				return printJSON(map[string]any{
					"scheduler": cfg,
					"summary":   summary,
					"health":    health,
				})
			}

			fmt.Println("Scheduler")
			fmt.Printf("  Enabled:     %t\n", cfg.Enabled)
			fmt.Printf("  Interval:    %s\n", cfg.Interval())
			fmt.Printf("  Concurrency: %d\n", cfg.ConcurrentSyncs)
			fmt.Printf("  Strategy:    %s\n", cfg.Strategy)
			fmt.Println()
			fmt.Printf("Syncs (%s)\n", summary.Window)
			fmt.Printf("  Total:        %d (%d ok, %d failed)\n", summary.TotalSyncs, summary.SuccessfulSyncs, summary.FailedSyncs)
			fmt.Printf("  Success rate: %.1f%%\n", summary.SuccessRate)
			fmt.Printf("  Avg duration: %s\n", time.Duration(summary.AvgDurationMs*float64(time.Millisecond)))
			fmt.Printf("  Sources:      %d\n", summary.TotalSources)
			fmt.Printf("  Monitors:     %d\n", summary.TotalMonitors)
			fmt.Println()
			fmt.Printf("Health: %s\n", health.Status)
			for _, issue := range health.Issues {
				fmt.Printf("  - %s\n", issue)
			}
			return nil
		})
	},
}

func init() {
	purgeCmd.Flags().Duration("older-than", 0, "retention window (defaults to scheduler.retention)")
	statusCmd.Flags().String("window", "24h", "statistics window: 24h, 7d or 30d")
}
