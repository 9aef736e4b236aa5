// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pmc-harvest/internal/checkpoint"
	"github.com/pdiddy/pmc-harvest/internal/harvest"
)

func (a *app) statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize a checkpoint and optionally clear failures",
		Long: `Status prints the outcome counts of a checkpoint and lists failed and
ambiguous identifiers. Failures are terminal across resumes; --clear-failed
removes them so the next collect --resume retries them. Pass identifiers
to clear only those; they are normalized the same way collect records them.`,
		RunE: a.runStatus,
	}
	f := cmd.Flags()
	f.String("checkpoint", "", "checkpoint file (default data/checkpoint.json)")
	f.String("redis-addr", "", "read the checkpoint from Redis at this address")
	f.Bool("clear-failed", false, "remove failed identifiers from the checkpoint")
	f.Bool("json", false, "print counts as JSON")
	return cmd
}

func (a *app) runStatus(cmd *cobra.Command, args []string) error {
	err := a.bind(cmd, map[string]string{
		"checkpoint": keyCheckpoint,
		"redis-addr": keyRedisAddr,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg := a.pipelineConfig()
	store, closeStore, err := checkpointStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	cp, err := store.Load(ctx)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return fmt.Errorf("no checkpoint found")
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if clearFailed, _ := cmd.Flags().GetBool("clear-failed"); clearFailed {
		keys := make([]string, 0, len(args))
		for _, arg := range args {
			_, key := harvest.Classify(arg)
			keys = append(keys, key)
		}
		cleared := cp.ClearFailed(keys...)
		if err := store.Save(ctx, cp); err != nil {
			return err
		}
		fmt.Fprintf(out, "cleared %d failed identifiers\n", len(cleared))
		for _, id := range cleared {
			fmt.Fprintf(out, "  %s\n", id)
		}
		return nil
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cp.Summary())
	}

	fmt.Fprintf(out, "run %s, saved %s\n", cp.RunID, cp.Timestamp.Format("2006-01-02 15:04:05 MST"))
	harvest.WriteSummary(out, &harvest.Result{Checkpoint: cp})
	return nil
}
