package crystal

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cognidex/crystal/pkg/config"
	"github.com/cognidex/crystal/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single crystallization batch and exit",
	Long: `Run one batch over the pending observation window, print the
summary, and exit. Useful for cron-driven setups and for draining a
backlog after downtime.

With --export, promotion decisions and batch history are additionally
written as Parquet snapshots for offline analysis.`,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("db-driver", "memory", "Graph store driver (memory, neo4j)")
	runCmd.Flags().String("db-uri", "", "Graph store URI")
	runCmd.Flags().String("db-username", "", "Graph store username")
	runCmd.Flags().String("db-password", "", "Graph store password")
	runCmd.Flags().String("badger-path", "", "Path for the embedded audit/watermark database")
	runCmd.Flags().String("ontology-table", "", "Path to the YAML ontology code table")
	runCmd.Flags().Bool("export", false, "Export decisions and batch history to Parquet")
	runCmd.Flags().Duration("timeout", 10*time.Minute, "Batch timeout")
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)
	if export, _ := cmd.Flags().GetBool("export"); export {
		cfg.Export.Enabled = true
	}

	log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)

	deps, err := initializeEngine(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summary, err := deps.client.RunBatch(ctx)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	fmt.Printf("batch %s: %d observations, %d created, %d merged, %d facts, %d promoted, %d demoted, %d held, %d denied, %d failed\n",
		summary.BatchID, summary.Observations, summary.Created, summary.Merged,
		summary.Facts, summary.Promoted, summary.Demoted, summary.Held,
		summary.Denied, summary.Failed)

	if deps.exporter != nil {
		batches, err := deps.trail.Batches(ctx, 1000)
		if err != nil {
			return fmt.Errorf("collecting batch history: %w", err)
		}
		path, err := deps.exporter.ExportBatches(ctx, batches)
		if err != nil {
			return fmt.Errorf("exporting batch history: %w", err)
		}
		if path != "" {
			fmt.Println("batch history exported to", path)
		}

		pending, err := deps.trail.PendingReviews(ctx)
		if err != nil {
			return fmt.Errorf("collecting pending reviews: %w", err)
		}
		path, err = deps.exporter.ExportDecisions(ctx, pending)
		if err != nil {
			return fmt.Errorf("exporting decisions: %w", err)
		}
		if path != "" {
			fmt.Println("pending decisions exported to", path)
		}
	}

	return deps.client.Close(context.Background())
}
