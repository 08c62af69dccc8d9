package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/feed"
	"github.com/jonathan/feedforge/internal/ingest"
	"github.com/jonathan/feedforge/internal/observability"
)

var (
	collectSourceID string
	collectSnapshot bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect feed items for a source",
	Long:  "Fetch items from a source's paginated feed, persist them idempotently, and advance the cursor. Incremental by default; snapshot mode restarts from the beginning and applies the source's time window.",
	RunE:  runCollect,
}

func init() {
	collectCmd.Flags().StringVar(&collectSourceID, "source", "", "Source ID to collect (required)")
	collectCmd.Flags().BoolVar(&collectSnapshot, "snapshot", false, "Restart from the beginning of the feed")
	_ = collectCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := connectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	client := feed.NewClient(&feed.Options{RatePerSecond: cfg.FeedRateLimit})
	orch := ingest.New(database, client, retryPolicy(cfg), cfg.RawPayloadMaxBytes, nil)

	mode := ingest.ModeIncremental
	if collectSnapshot {
		mode = ingest.ModeSnapshot
	}

	var report *ingest.Report
	err = withRunLedger(ctx, database, collectSourceID, db.StageCollect, func() (any, error) {
		var cerr error
		report, cerr = orch.Collect(ctx, collectSourceID, mode)
		return report, cerr
	})
	if err != nil {
		return fmt.Errorf("collection failed: %w", err)
	}

	if cfg.Verbose {
		observability.NewPrinter(os.Stdout).PrintCollectionReport(report)
	} else {
		fmt.Printf("Collected %d items from %s (%d duplicates)\n",
			report.Inserted, collectSourceID, report.Duplicates)
	}
	return nil
}
