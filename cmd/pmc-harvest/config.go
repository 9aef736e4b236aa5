// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/pdiddy/pmc-harvest/internal/checkpoint"
	"github.com/pdiddy/pmc-harvest/internal/secrets"
	"github.com/pdiddy/pmc-harvest/pkg/types"
)

// Configuration keys. In pmc-harvest.yaml they nest by the dotted prefix;
// as environment variables they take the PMC_HARVEST_ prefix with dots
// and dashes mapped to underscores (PMC_HARVEST_ENTREZ_API_KEY).
const (
	keyBaseURL     = "entrez.base-url"
	keyDatabase    = "entrez.database"
	keyAPIKey      = "entrez.api-key"
	keyEmail       = "entrez.email"
	keyTimeout     = "entrez.timeout"
	keySearchLimit = "entrez.search-limit"

	keyRate = "rate-limit.per-second"

	keyMaxAttempts = "retry.max-attempts"
	keyBaseDelay   = "retry.base-delay"
	keyMaxDelay    = "retry.max-delay"
	keyJitter      = "retry.jitter"

	keyBatchSize          = "harvest.batch-size"
	keyWorkers            = "harvest.workers"
	keyCheckpointInterval = "harvest.checkpoint-interval"
	keyIdentifierTimeout  = "harvest.identifier-timeout"

	keyCheckpoint   = "storage.checkpoint"
	keyDocumentsDir = "storage.documents-dir"
	keyIndex        = "storage.index"
	keyRedisAddr    = "storage.redis-addr"
	keyRedisKey     = "storage.redis-key"
)

func setDefaults(v *viper.Viper) {
	d := types.DefaultPipelineConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault(keyBaseURL, d.Entrez.BaseURL)
	v.SetDefault(keyDatabase, d.Entrez.Database)
	v.SetDefault(keyTimeout, d.Entrez.Timeout)
	v.SetDefault(keySearchLimit, d.Entrez.SearchLimit)
	v.SetDefault(keyRate, 0)
	v.SetDefault(keyMaxAttempts, d.Retry.MaxAttempts)
	v.SetDefault(keyBaseDelay, d.Retry.BaseDelay)
	v.SetDefault(keyMaxDelay, d.Retry.MaxDelay)
	v.SetDefault(keyJitter, d.Retry.Jitter)
	v.SetDefault(keyBatchSize, d.Harvest.BatchSize)
	v.SetDefault(keyWorkers, d.Harvest.Workers)
	v.SetDefault(keyCheckpointInterval, d.Harvest.CheckpointInterval)
	v.SetDefault(keyIdentifierTimeout, d.Harvest.IdentifierTimeout)
	v.SetDefault(keyCheckpoint, d.Storage.CheckpointPath)
	v.SetDefault(keyDocumentsDir, d.Storage.DocumentsDir)
	v.SetDefault(keyRedisKey, d.Storage.RedisKey)
}

// pipelineConfig assembles the run configuration from defaults, the config
// file, environment, bound flags and secrets, in increasing precedence
// except that secrets only fill credentials left empty.
func (a *app) pipelineConfig() types.PipelineConfig {
	v := a.v
	cfg := types.DefaultPipelineConfig()

	cfg.Entrez.BaseURL = v.GetString(keyBaseURL)
	cfg.Entrez.Database = v.GetString(keyDatabase)
	cfg.Entrez.APIKey = v.GetString(keyAPIKey)
	cfg.Entrez.Email = v.GetString(keyEmail)
	cfg.Entrez.Timeout = v.GetDuration(keyTimeout)
	cfg.Entrez.SearchLimit = v.GetInt(keySearchLimit)
	secrets.Apply(&cfg.Entrez, a.secrets)

	cfg.RateLimit.MaxPerSecond = v.GetInt(keyRate)
	if cfg.RateLimit.MaxPerSecond <= 0 {
		cfg.RateLimit.MaxPerSecond = types.RateFor(cfg.Entrez.APIKey)
	}

	cfg.Retry.MaxAttempts = v.GetInt(keyMaxAttempts)
	cfg.Retry.BaseDelay = v.GetDuration(keyBaseDelay)
	cfg.Retry.MaxDelay = v.GetDuration(keyMaxDelay)
	cfg.Retry.Jitter = v.GetFloat64(keyJitter)

	cfg.Harvest.BatchSize = v.GetInt(keyBatchSize)
	cfg.Harvest.Workers = v.GetInt(keyWorkers)
	cfg.Harvest.CheckpointInterval = v.GetInt(keyCheckpointInterval)
	cfg.Harvest.IdentifierTimeout = v.GetDuration(keyIdentifierTimeout)

	cfg.Storage.CheckpointPath = v.GetString(keyCheckpoint)
	cfg.Storage.DocumentsDir = v.GetString(keyDocumentsDir)
	cfg.Storage.IndexPath = v.GetString(keyIndex)
	cfg.Storage.RedisAddr = v.GetString(keyRedisAddr)
	cfg.Storage.RedisKey = v.GetString(keyRedisKey)
	return cfg
}

// checkpointStore returns the Redis store when an address is configured,
// otherwise the file store. The returned close func releases connections.
func checkpointStore(ctx context.Context, cfg types.StorageConfig) (checkpoint.Store, func() error, error) {
	if cfg.RedisAddr == "" {
		return checkpoint.NewFileStore(cfg.CheckpointPath), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	return checkpoint.NewRedisStore(client, cfg.RedisKey), client.Close, nil
}
