package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/keys"
	"github.com/jonathan/feedforge/internal/observability"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage collection sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources",
	RunE:  runSourcesList,
}

var (
	addSourceName        string
	addSourceFeedURL     string
	addSourcePollSeconds int
	addSourceBatchSize   int
	addSourceWindowStart string
	addSourceWindowEnd   string
)

var sourcesAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a new collection source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesAdd,
}

var sourcesPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause collection for a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return setSourceStatus(args[0], db.SourcePaused)
	},
}

var sourcesResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Reactivate a paused or errored source",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return setSourceStatus(args[0], db.SourceActive)
	},
}

var sourcesResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Clear a source's error state so collection can resume",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesReset,
}

var sourcesFailuresCmd = &cobra.Command{
	Use:   "failures <id>",
	Short: "Show a source's failure ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesFailures,
}

func init() {
	sourcesAddCmd.Flags().StringVar(&addSourceName, "name", "", "Human-readable source name")
	sourcesAddCmd.Flags().StringVar(&addSourceFeedURL, "feed-url", "", "Feed base URL (required)")
	sourcesAddCmd.Flags().IntVar(&addSourcePollSeconds, "poll-seconds", 0, "Poll interval in seconds")
	sourcesAddCmd.Flags().IntVar(&addSourceBatchSize, "batch-size", 0, "Items requested per page")
	sourcesAddCmd.Flags().StringVar(&addSourceWindowStart, "window-start", "", "Snapshot window start (RFC 3339)")
	sourcesAddCmd.Flags().StringVar(&addSourceWindowEnd, "window-end", "", "Snapshot window end (RFC 3339)")
	_ = sourcesAddCmd.MarkFlagRequired("feed-url")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesPauseCmd)
	sourcesCmd.AddCommand(sourcesResumeCmd)
	sourcesCmd.AddCommand(sourcesResetCmd)
	sourcesCmd.AddCommand(sourcesFailuresCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func runSourcesList(_ *cobra.Command, _ []string) error {
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

	sources, err := database.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	observability.NewPrinter(os.Stdout).PrintSources(sources)
	return nil
}

func runSourcesAdd(_ *cobra.Command, args []string) error {
	id := args[0]
	if strings.Contains(id, keys.Separator) {
		return fmt.Errorf("source id must not contain %q", keys.Separator)
	}

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

	src := &db.Source{
		ID:          id,
		Name:        addSourceName,
		FeedURL:     addSourceFeedURL,
		PollSeconds: addSourcePollSeconds,
		BatchSize:   addSourceBatchSize,
	}
	if addSourceWindowStart != "" {
		ts, err := time.Parse(time.RFC3339, addSourceWindowStart)
		if err != nil {
			return fmt.Errorf("invalid --window-start: %w", err)
		}
		src.WindowStart = &ts
	}
	if addSourceWindowEnd != "" {
		ts, err := time.Parse(time.RFC3339, addSourceWindowEnd)
		if err != nil {
			return fmt.Errorf("invalid --window-end: %w", err)
		}
		src.WindowEnd = &ts
	}

	if err := database.CreateSource(ctx, src); err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	fmt.Printf("Created source %s\n", id)
	return nil
}

func setSourceStatus(id, status string) error {
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

	src, err := database.GetSource(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get source: %w", err)
	}
	if src == nil {
		return fmt.Errorf("source not found: %s", id)
	}

	if err := database.UpdateSourceStatus(ctx, id, status, nil); err != nil {
		return fmt.Errorf("failed to update source status: %w", err)
	}

	fmt.Printf("Source %s is now %s\n", id, status)
	return nil
}

func runSourcesReset(_ *cobra.Command, args []string) error {
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

	if err := database.ResetSource(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to reset source: %w", err)
	}

	fmt.Printf("Reset source %s\n", args[0])
	return nil
}

func runSourcesFailures(_ *cobra.Command, args []string) error {
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

	failures, err := database.ListFailuresBySource(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to list failures: %w", err)
	}

	observability.NewPrinter(os.Stdout).PrintFailures(failures)
	return nil
}
