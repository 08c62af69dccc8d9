// Package main provides the feedforge CLI: feed collection, enrichment,
// topicization, export, and the HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "feedforge",
	Short: "Feed collection and enrichment pipeline",
	Long:  "Feedforge collects items from paginated feeds, enriches them with structured LLM annotations, groups them into topics, and exports deterministic JSON documents.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
