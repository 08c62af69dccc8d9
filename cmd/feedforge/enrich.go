package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/enrich"
	"github.com/jonathan/feedforge/internal/observability"
)

var (
	enrichSourceID string
	enrichForce    bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich collected items with structured annotations",
	Long:  "Run LLM enrichment over a source's pending raw items with deterministic parameters. Already-processed items are skipped unless --force is set; per-item failures go to the failure ledger without aborting the batch.",
	RunE:  runEnrich,
}

func init() {
	enrichCmd.Flags().StringVar(&enrichSourceID, "source", "", "Source ID to enrich (required)")
	enrichCmd.Flags().BoolVar(&enrichForce, "force", false, "Re-enrich items that already have results")
	_ = enrichCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(enrichCmd)
}

func runEnrich(_ *cobra.Command, _ []string) error {
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

	capability, err := newCapability(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = capability.Close() }()

	coord := enrich.New(database, capability, retryPolicy(cfg), inferenceParams(cfg), cfg.EnrichConcurrency, nil)

	var report *enrich.Report
	err = withRunLedger(ctx, database, enrichSourceID, db.StageEnrich, func() (any, error) {
		var perr error
		report, perr = coord.EnrichSource(ctx, enrichSourceID, enrichForce)
		return report, perr
	})
	if err != nil {
		return fmt.Errorf("enrichment failed: %w", err)
	}

	if cfg.Verbose {
		observability.NewPrinter(os.Stdout).PrintEnrichmentReport(report)
	} else {
		fmt.Printf("Enriched %d items from %s (%d skipped, %d failed)\n",
			report.Processed, enrichSourceID, report.Skipped, report.Failed)
	}
	return nil
}
