package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/observability"
	"github.com/jonathan/feedforge/internal/topics"
)

var topicsSourceID string

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Group enriched items into topics",
	Long:  "Cluster a source's enriched items, apply the quality gates, and persist the surviving topic artifacts with their extents.",
	RunE:  runTopics,
}

func init() {
	topicsCmd.Flags().StringVar(&topicsSourceID, "source", "", "Source ID to topicize (required)")
	_ = topicsCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(topicsCmd)
}

func runTopics(_ *cobra.Command, _ []string) error {
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

	thresholds := topics.Thresholds{
		TopicAnchors:       cfg.TopicAnchors,
		SingletonMinScore:  cfg.SingletonMinScore,
		SingletonMinLength: cfg.SingletonMinLength,
		ClusterMinScore:    cfg.ClusterMinScore,
		SupportingMinScore: cfg.SupportingMinScore,
	}
	engine := topics.New(database, capability, retryPolicy(cfg), inferenceParams(cfg), thresholds, nil)

	var report *topics.Report
	err = withRunLedger(ctx, database, topicsSourceID, db.StageTopics, func() (any, error) {
		var terr error
		report, terr = engine.Topicize(ctx, topicsSourceID)
		return report, terr
	})
	if err != nil {
		return fmt.Errorf("topicization failed: %w", err)
	}

	if cfg.Verbose {
		observability.NewPrinter(os.Stdout).PrintTopicReport(report)
	} else {
		fmt.Printf("Topicized %s: %d singletons, %d clusters, %.0f%% coverage\n",
			topicsSourceID, report.Singletons, report.Clusters, report.Coverage*100)
	}
	return nil
}
