// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pdiddy/pmc-harvest/internal/checkpoint"
	"github.com/pdiddy/pmc-harvest/internal/docstore"
	"github.com/pdiddy/pmc-harvest/internal/entrez"
	"github.com/pdiddy/pmc-harvest/internal/harvest"
	"github.com/pdiddy/pmc-harvest/internal/ratelimit"
	"github.com/pdiddy/pmc-harvest/pkg/types"
)

func (a *app) collectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect [identifiers...]",
		Short: "Fetch and parse records for PMCIDs, PMIDs or DOIs",
		Long: `Collect resolves each identifier to a record, fetches and parses it,
and records the outcome in a checkpoint. Identifiers that match no record
or several records are reported rather than guessed. With --resume, the
identifiers already in the checkpoint are skipped. Without --resume, an
existing checkpoint is only replaced when --fresh is given.

When the run completes, every harvested document is written to the
documents directory and, if --index is set, to the full-text index.`,
		RunE: a.runCollect,
	}

	f := cmd.Flags()
	f.String("ids-file", "", "read identifiers from a file (search --save output or one per line)")
	f.Bool("resume", false, "continue from the existing checkpoint")
	f.Bool("fresh", false, "start a new run, replacing any existing checkpoint")
	f.Int("batch-size", 0, "identifiers per batch (default 20)")
	f.Int("workers", 0, "concurrent workers (default 2)")
	f.Int("checkpoint-interval", 0, "completed identifiers between checkpoint saves (default 32)")
	f.String("checkpoint", "", "checkpoint file (default data/checkpoint.json)")
	f.String("documents-dir", "", "directory for document records (default data/documents)")
	f.String("index", "", "SQLite full-text index to update")
	f.String("redis-addr", "", "keep the checkpoint in Redis at this address")
	f.String("base-url", "", "E-utilities base URL")
	f.String("database", "", "Entrez database: pmc or pubmed")
	f.Int("rate", 0, "requests per second (default 3, or 9 with an API key)")
	f.Duration("timeout", 0, "per-identifier timeout (default none)")
	f.Int("max-attempts", 0, "attempts per request including the first (default 3)")
	f.Duration("retry-base-delay", 0, "delay before the first retry (default 2s)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func (a *app) runCollect(cmd *cobra.Command, args []string) error {
	err := a.bind(cmd, map[string]string{
		"batch-size":          keyBatchSize,
		"workers":             keyWorkers,
		"checkpoint-interval": keyCheckpointInterval,
		"checkpoint":          keyCheckpoint,
		"documents-dir":       keyDocumentsDir,
		"index":               keyIndex,
		"redis-addr":          keyRedisAddr,
		"base-url":            keyBaseURL,
		"database":            keyDatabase,
		"rate":                keyRate,
		"timeout":             keyIdentifierTimeout,
		"max-attempts":        keyMaxAttempts,
		"retry-base-delay":    keyBaseDelay,
	})
	if err != nil {
		return err
	}

	ids := append([]string(nil), args...)
	if path, _ := cmd.Flags().GetString("ids-file"); path != "" {
		fromFile, err := harvest.LoadIdentifiers(path)
		if err != nil {
			return err
		}
		ids = append(ids, fromFile...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("provide identifiers as arguments or with --ids-file")
	}

	cfg := a.pipelineConfig()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		shutdown := serveMetrics(addr)
		defer shutdown()
	}

	store, closeStore, err := checkpointStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	resumeRun, _ := cmd.Flags().GetBool("resume")
	fresh, _ := cmd.Flags().GetBool("fresh")
	if resumeRun && fresh {
		return fmt.Errorf("--resume and --fresh are mutually exclusive")
	}

	var resume *types.Checkpoint
	switch {
	case resumeRun:
		resume, err = store.Load(ctx)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			log.Info().Msg("no checkpoint to resume, starting fresh")
		case err != nil:
			return fmt.Errorf("loading checkpoint: %w", err)
		}
	case fresh:
		log.Warn().Str("checkpoint", checkpointLocation(cfg.Storage)).Msg("starting a fresh run; any existing checkpoint will be replaced")
	default:
		_, err := store.Load(ctx)
		switch {
		case err == nil:
			return fmt.Errorf("checkpoint %s already exists; use --resume to continue it or --fresh to replace it",
				checkpointLocation(cfg.Storage))
		case !errors.Is(err, checkpoint.ErrNotFound):
			return fmt.Errorf("checking existing checkpoint: %w; use --fresh to replace it", err)
		}
	}

	limiter := ratelimit.New(cfg.RateLimit)
	client := entrez.New(cfg.Entrez, limiter, cfg.Retry)
	orch := harvest.New(client, store, harvest.WithResolver(harvest.ResolverFor(cfg.Entrez.Database)))

	res, runErr := orch.Run(ctx, ids, harvest.Options{
		BatchSize:          cfg.Harvest.BatchSize,
		Workers:            cfg.Harvest.Workers,
		CheckpointInterval: cfg.Harvest.CheckpointInterval,
		SearchLimit:        cfg.Entrez.SearchLimit,
		IdentifierTimeout:  cfg.Harvest.IdentifierTimeout,
		Resume:             resume,
	})
	if res != nil {
		harvest.WriteSummary(cmd.OutOrStdout(), res)
	}
	if runErr != nil {
		if res != nil && res.Cancelled {
			return fmt.Errorf("run interrupted with %d identifiers pending; rerun with --resume", len(res.Pending))
		}
		return runErr
	}

	return finalize(cmd, res.Checkpoint, cfg.Storage)
}

// checkpointLocation names where the checkpoint lives, for messages.
func checkpointLocation(cfg types.StorageConfig) string {
	if cfg.RedisAddr != "" {
		return "redis://" + cfg.RedisAddr + "/" + cfg.RedisKey
	}
	return cfg.CheckpointPath
}

// finalize writes the collected documents to the document directory and
// the optional index.
func finalize(cmd *cobra.Command, cp *types.Checkpoint, cfg types.StorageConfig) error {
	ctx := cmd.Context()
	sinks := []checkpoint.DocumentSink{docstore.NewDir(cfg.DocumentsDir)}
	if cfg.IndexPath != "" {
		ix, err := docstore.OpenIndex(cfg.IndexPath)
		if err != nil {
			return err
		}
		defer ix.Close()
		sinks = append(sinks, ix)
	}

	sum, err := checkpoint.Finalize(ctx, cp, sinks...)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nwrote %d documents to %s", sum.Written, cfg.DocumentsDir)
	if sum.Duplicates > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " (%d inputs resolved to an already written record)", sum.Duplicates)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

// serveMetrics exposes the Prometheus registry on addr until the returned
// func is called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
