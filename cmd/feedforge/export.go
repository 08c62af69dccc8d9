package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jonathan/feedforge/internal/export"
	"github.com/jonathan/feedforge/internal/keys"
)

var (
	exportSourceID string
	exportOutDir   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write deterministic export documents for a source",
	Long:  "Write the topic catalog, per-topic bundles, the ref resolution table, and the flat record stream as JSON files. Re-exporting unchanged data produces byte-identical files.",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportSourceID, "source", "", "Source ID to export (required)")
	exportCmd.Flags().StringVarP(&exportOutDir, "out", "o", "export", "Output directory")
	_ = exportCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(exportCmd)
}

func runExport(_ *cobra.Command, _ []string) error {
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

	if err := os.MkdirAll(exportOutDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	exporter := export.New(database)

	catalog, err := exporter.Catalog(ctx, exportSourceID)
	if err != nil {
		return fmt.Errorf("failed to build catalog: %w", err)
	}
	if err := writeDoc(filepath.Join(exportOutDir, "catalog.json"), catalog); err != nil {
		return err
	}

	for _, entry := range catalog.Topics {
		bundle, err := exporter.Topic(ctx, entry.ID)
		if err != nil {
			return fmt.Errorf("failed to build topic bundle %s: %w", entry.ID, err)
		}
		name := keys.FileSafe(entry.ID) + ".json"
		if err := writeDoc(filepath.Join(exportOutDir, name), bundle); err != nil {
			return err
		}
	}

	resolution, err := exporter.Resolution(ctx, exportSourceID)
	if err != nil {
		return fmt.Errorf("failed to build resolution table: %w", err)
	}
	if err := writeDoc(filepath.Join(exportOutDir, "resolution.json"), resolution); err != nil {
		return err
	}

	records, err := exporter.Records(ctx, exportSourceID)
	if err != nil {
		return fmt.Errorf("failed to build record stream: %w", err)
	}
	if err := writeDoc(filepath.Join(exportOutDir, "records.json"), records); err != nil {
		return err
	}

	fmt.Printf("Exported %d topics from %s to %s\n", len(catalog.Topics), exportSourceID, exportOutDir)
	return nil
}

func writeDoc(path string, doc any) error {
	data, err := export.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
