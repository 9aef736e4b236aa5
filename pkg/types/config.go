// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "pmc-harvest/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// RateLimitConfig bounds the request rate against the upstream API.
type RateLimitConfig struct {
	// MaxPerSecond is the number of permits granted per Window. NCBI allows
	// 3 without an API key and 10 with one; the defaults stay one below.
	MaxPerSecond int `json:"max_per_second" yaml:"max_per_second"`

	// Window is the rolling window the bound applies to (default 1s).
	Window time.Duration `json:"window" yaml:"window"`
}

// RetryConfig controls retry of transient upstream failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the delay before the first retry. Each later retry doubles it.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`

	// MaxDelay caps the computed delay before jitter is applied.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// Jitter is the fraction of the delay added at random, in [0, 1].
	Jitter float64 `json:"jitter" yaml:"jitter"`
}

// EntrezConfig holds settings for the NCBI E-utilities client.
type EntrezConfig struct {
	HTTPConfig `yaml:",inline"`

	// BaseURL is the E-utilities root (default https://eutils.ncbi.nlm.nih.gov/entrez/eutils).
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Database is the Entrez database queried: "pmc" or "pubmed".
	Database string `json:"database" yaml:"database"`

	// Tool and Email identify the caller to NCBI.
	Tool  string `json:"tool" yaml:"tool"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`

	// APIKey raises the NCBI rate ceiling when set.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// SearchLimit is the maximum number of IDs returned per search (default 20).
	SearchLimit int `json:"search_limit" yaml:"search_limit"`
}

// HarvestConfig holds settings for the batch orchestrator.
type HarvestConfig struct {
	// BatchSize is the number of identifiers handed to a worker at once (default 20).
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Workers is the number of batches processed concurrently (default 2).
	Workers int `json:"workers" yaml:"workers"`

	// CheckpointInterval is the number of completed identifiers between
	// checkpoint saves (default 32).
	CheckpointInterval int `json:"checkpoint_interval" yaml:"checkpoint_interval"`

	// IdentifierTimeout bounds the work on one identifier. Zero disables it.
	IdentifierTimeout time.Duration `json:"identifier_timeout" yaml:"identifier_timeout"`
}

// StorageConfig locates checkpoints and harvested documents.
type StorageConfig struct {
	// CheckpointPath is the checkpoint file (default "data/checkpoint.json").
	CheckpointPath string `json:"checkpoint_path" yaml:"checkpoint_path"`

	// DocumentsDir receives one YAML file per document (default "data/documents").
	DocumentsDir string `json:"documents_dir" yaml:"documents_dir"`

	// IndexPath is the optional SQLite full-text index. Empty disables indexing.
	IndexPath string `json:"index_path,omitempty" yaml:"index_path,omitempty"`

	// RedisAddr switches checkpoints to a Redis key when set.
	RedisAddr string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`

	// RedisKey is the key holding the checkpoint (default "pmc-harvest:checkpoint").
	RedisKey string `json:"redis_key,omitempty" yaml:"redis_key,omitempty"`
}

// PipelineConfig groups all component configurations for a run.
type PipelineConfig struct {
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
	Entrez    EntrezConfig    `json:"entrez" yaml:"entrez"`
	Harvest   HarvestConfig   `json:"harvest" yaml:"harvest"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

// Default settings.
const (
	DefaultBaseURL            = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	DefaultRatePerSecond      = 3
	DefaultRatePerSecondKeyed = 9
	DefaultBatchSize          = 20
	DefaultWorkers            = 2
	DefaultCheckpointInterval = 32
	DefaultMaxAttempts        = 3
)

// DefaultPipelineConfig returns the configuration used when nothing is overridden.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		RateLimit: RateLimitConfig{MaxPerSecond: DefaultRatePerSecond, Window: time.Second},
		Retry: RetryConfig{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
			Jitter:      0.2,
		},
		Entrez: EntrezConfig{
			HTTPConfig:  HTTPConfig{Timeout: 60 * time.Second, UserAgent: "pmc-harvest/0.1"},
			BaseURL:     DefaultBaseURL,
			Database:    "pmc",
			Tool:        "pmc-harvest",
			SearchLimit: 20,
		},
		Harvest: HarvestConfig{
			BatchSize:          DefaultBatchSize,
			Workers:            DefaultWorkers,
			CheckpointInterval: DefaultCheckpointInterval,
		},
		Storage: StorageConfig{
			CheckpointPath: "data/checkpoint.json",
			DocumentsDir:   "data/documents",
			RedisKey:       "pmc-harvest:checkpoint",
		},
	}
}

// RateFor returns the default permits per second for the given API key.
func RateFor(apiKey string) int {
	if apiKey != "" {
		return DefaultRatePerSecondKeyed
	}
	return DefaultRatePerSecond
}
