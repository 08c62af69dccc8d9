package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonathan/feedforge/internal/config"
	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/llm"
	"github.com/jonathan/feedforge/internal/retry"
)

// Flags shared by all pipeline subcommands.
var (
	configFile  string
	databaseURL string
	verbose     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to JSON config file")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "db-url", "", "Database URL (overrides DATABASE_URL env var)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print run summaries")
}

// loadConfig merges the config file, environment, and flags into the
// effective configuration.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if configFile != "" {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if verbose {
		cfg.Verbose = true
	}

	result := cfg.WithDefaults()
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

// connectDB opens the Postgres pool from the effective configuration.
func connectDB(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required (set DATABASE_URL or use --db-url)")
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

// newCapability creates the configured inference provider.
func newCapability(ctx context.Context, cfg *config.Config) (llm.Capability, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required (set GEMINI_API_KEY or OPENAI_API_KEY)")
	}
	return llm.NewCapability(ctx, cfg.Provider, cfg.APIKey)
}

// inferenceParams returns the deterministic parameter set for the
// configured model.
func inferenceParams(cfg *config.Config) llm.Params {
	model := cfg.Model
	if model == "" {
		model = llm.DefaultModel(cfg.Provider)
	}
	return llm.DeterministicParams(model)
}

// retryPolicy builds the retry policy from the effective configuration.
func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay(),
		MaxDelay:    30 * time.Second,
	}
}

// withRunLedger records a pipeline stage invocation in the run ledger,
// marking it completed or failed based on the stage's outcome.
func withRunLedger(ctx context.Context, database *db.DB, sourceID, stage string, fn func() (any, error)) error {
	runID, err := database.CreateRun(ctx, sourceID, stage)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	report, stageErr := fn()
	status := db.RunCompleted
	if stageErr != nil {
		status = db.RunFailed
		report = map[string]string{"error": stageErr.Error()}
	}
	if err := database.CompleteRun(ctx, runID, status, report); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return stageErr
}
