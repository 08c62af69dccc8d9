// Package config provides configuration loading and validation for the pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied when neither the config file nor flags set a value.
const (
	DefaultTopicAnchors       = 3
	DefaultEnrichConcurrency  = 4
	DefaultMaxAttempts        = 4
	DefaultBaseDelay          = 500 * time.Millisecond
	DefaultRawPayloadMaxBytes = 64 * 1024
	DefaultFeedRateLimit      = 2.0
)

// Default quality-gate thresholds; recorded in artifact metadata at run time.
const (
	DefaultSingletonMinScore  = 0.75
	DefaultSingletonMinLength = 300
	DefaultClusterMinScore    = 0.6
	DefaultSupportingMinScore = 0.5
)

// Config is the immutable configuration passed to each component at
// construction. All fields are optional in the file; missing values use
// defaults or must be provided via CLI flags.
type Config struct {
	// Connections
	DatabaseURL string `json:"database_url,omitempty"`
	Provider    string `json:"provider,omitempty" validate:"omitempty,oneof=gemini openai"`
	APIKey      string `json:"api_key,omitempty"`
	Model       string `json:"model,omitempty"`

	// Collection
	RawPayloadMaxBytes int     `json:"raw_payload_max_bytes,omitempty" validate:"omitempty,min=1024"`
	FeedRateLimit      float64 `json:"feed_rate_limit,omitempty" validate:"omitempty,gt=0"`

	// Retry budget
	MaxAttempts int `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
	BaseDelayMS int `json:"base_delay_ms,omitempty" validate:"omitempty,min=1"`

	// Enrichment
	EnrichConcurrency int `json:"enrich_concurrency,omitempty" validate:"omitempty,min=1,max=64"`

	// Topicization quality gates
	TopicAnchors       int     `json:"topic_anchors,omitempty" validate:"omitempty,min=1,max=10"`
	SingletonMinScore  float64 `json:"singleton_min_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	SingletonMinLength int     `json:"singleton_min_length,omitempty" validate:"omitempty,min=0"`
	ClusterMinScore    float64 `json:"cluster_min_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	SupportingMinScore float64 `json:"supporting_min_score,omitempty" validate:"omitempty,gte=0,lte=1"`

	// Behavior
	Verbose bool `json:"verbose,omitempty"`
	Port    int  `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

// WithDefaults returns a copy of the config with zero-valued fields filled in.
func (c *Config) WithDefaults() Config {
	result := *c

	if result.Provider == "" {
		result.Provider = "gemini"
	}
	if result.RawPayloadMaxBytes == 0 {
		result.RawPayloadMaxBytes = DefaultRawPayloadMaxBytes
	}
	if result.FeedRateLimit == 0 {
		result.FeedRateLimit = DefaultFeedRateLimit
	}
	if result.MaxAttempts == 0 {
		result.MaxAttempts = DefaultMaxAttempts
	}
	if result.BaseDelayMS == 0 {
		result.BaseDelayMS = int(DefaultBaseDelay / time.Millisecond)
	}
	if result.EnrichConcurrency == 0 {
		result.EnrichConcurrency = DefaultEnrichConcurrency
	}
	if result.TopicAnchors == 0 {
		result.TopicAnchors = DefaultTopicAnchors
	}
	if result.SingletonMinScore == 0 {
		result.SingletonMinScore = DefaultSingletonMinScore
	}
	if result.SingletonMinLength == 0 {
		result.SingletonMinLength = DefaultSingletonMinLength
	}
	if result.ClusterMinScore == 0 {
		result.ClusterMinScore = DefaultClusterMinScore
	}
	if result.SupportingMinScore == 0 {
		result.SupportingMinScore = DefaultSupportingMinScore
	}

	return result
}

// BaseDelay returns the configured backoff base delay as a duration.
func (c *Config) BaseDelay() time.Duration {
	if c.BaseDelayMS <= 0 {
		return DefaultBaseDelay
	}
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}
