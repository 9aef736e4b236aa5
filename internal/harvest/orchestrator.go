// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvest turns a list of record identifiers into harvested
// documents. It resolves identifiers, fetches and parses records with a
// bounded worker pool, and checkpoints progress so interrupted runs resume
// without re-fetching completed identifiers.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/pmc-harvest/internal/entrez"
	"github.com/pdiddy/pmc-harvest/internal/logging"
	"github.com/pdiddy/pmc-harvest/internal/record"
	"github.com/pdiddy/pmc-harvest/pkg/types"
)

var (
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmc_harvest_outcomes_total",
		Help: "Total number of identifier outcomes by kind",
	}, []string{"kind"})

	pendingIdentifiers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmc_harvest_pending_identifiers",
		Help: "Identifiers queued in the current run without an outcome",
	})
)

// API is the upstream record service.
type API interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// CheckpointSaver persists checkpoint snapshots.
type CheckpointSaver interface {
	Save(ctx context.Context, cp *types.Checkpoint) error
}

// ParseFunc turns a fetched payload into a document. fallbackID is the
// record ID that was fetched.
type ParseFunc func(raw []byte, fallbackID string) (*types.Document, error)

// Orchestrator runs harvests. It is safe to call Run sequentially; each
// call owns its checkpoint.
type Orchestrator struct {
	api     API
	store   CheckpointSaver
	parse   ParseFunc
	resolve ResolveFunc
	now     func() time.Time
	runID   func() string
	log     zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResolver sets how input identifiers are resolved. Defaults to ResolvePMC.
func WithResolver(fn ResolveFunc) Option {
	return func(o *Orchestrator) { o.resolve = fn }
}

// WithParser replaces the record parser.
func WithParser(fn ParseFunc) Option {
	return func(o *Orchestrator) { o.parse = fn }
}

// WithClock sets the clock used for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRunID sets the generator for new checkpoint run IDs.
func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) { o.runID = fn }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = logger }
}

// New creates an Orchestrator.
func New(api API, store CheckpointSaver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:     api,
		store:   store,
		parse:   record.Parser{}.ParseWithID,
		resolve: ResolvePMC,
		now:     time.Now,
		runID:   uuid.NewString,
		log:     logging.NewLogger("harvest"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Options controls one run.
type Options struct {
	BatchSize          int
	Workers            int
	CheckpointInterval int

	// SearchLimit caps candidates requested when resolving an identifier.
	SearchLimit int

	// IdentifierTimeout bounds the work on one identifier. Zero means none.
	IdentifierTimeout time.Duration

	// Resume is a previous checkpoint to continue from. It is not modified.
	Resume *types.Checkpoint
}

func (opts *Options) applyDefaults() {
	if opts.BatchSize <= 0 {
		opts.BatchSize = types.DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = types.DefaultWorkers
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = types.DefaultCheckpointInterval
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 20
	}
}

// Result is the state at the end of a run.
type Result struct {
	// Checkpoint holds every outcome, including those carried over from Resume.
	Checkpoint *types.Checkpoint

	// Pending lists identifiers queued in this run that have no outcome,
	// because the run was cancelled before they finished.
	Pending []string

	// Skipped lists identifiers already processed in the resumed checkpoint.
	Skipped []string

	// Processed counts outcomes recorded during this run.
	Processed int

	// Saves counts checkpoint saves, including the final one.
	Saves int

	// Cancelled reports whether the run stopped early.
	Cancelled bool
}

// workItem is one identifier queued for processing.
type workItem struct {
	target Target
	err    error
}

// Run processes identifiers and returns the accumulated result. On
// cancellation it stops dispatching, saves what was completed and returns
// the result together with the context error. A checkpoint save failure
// aborts the run.
func (o *Orchestrator) Run(ctx context.Context, identifiers []string, opts Options) (*Result, error) {
	opts.applyDefaults()

	var cp *types.Checkpoint
	if opts.Resume != nil {
		cp = opts.Resume.Clone()
		cp.Normalize()
	} else {
		cp = types.NewCheckpoint(o.runID())
	}

	res := &Result{Checkpoint: cp}
	work := o.plan(identifiers, cp, res)

	logger := o.log.With().Str("run_id", cp.RunID).Logger()
	logger.Info().
		Int("queued", len(work)).
		Int("skipped", len(res.Skipped)).
		Int("workers", opts.Workers).
		Int("batch_size", opts.BatchSize).
		Msg("harvest starting")
	pendingIdentifiers.Set(float64(len(work)))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Saves must outlive cancellation of the run.
	saveCtx := context.WithoutCancel(ctx)
	save := func() error {
		cp.Timestamp = o.now().UTC()
		if err := o.store.Save(saveCtx, cp.Clone()); err != nil {
			return fmt.Errorf("saving checkpoint: %w", err)
		}
		res.Saves++
		return nil
	}

	outcomes := make(chan types.FetchOutcome)
	aggDone := make(chan struct{})
	var saveErr error

	go func() {
		defer close(aggDone)
		sinceSave := 0
		for oc := range outcomes {
			if saveErr != nil {
				continue
			}
			if cp.ProcessedIDs.Has(oc.Identifier) {
				continue
			}
			cp.Record(oc)
			res.Processed++
			sinceSave++
			outcomesTotal.WithLabelValues(string(oc.Kind)).Inc()
			pendingIdentifiers.Dec()
			logOutcome(logger, oc)

			if sinceSave >= opts.CheckpointInterval {
				if err := save(); err != nil {
					saveErr = err
					logger.Error().Err(err).Msg("checkpoint save failed, aborting run")
					cancel()
					continue
				}
				sinceSave = 0
				logger.Debug().Int("processed", len(cp.ProcessedIDs)).Msg("checkpoint saved")
			}
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(opts.Workers)
	for _, batch := range batches(work, opts.BatchSize) {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			for _, item := range batch {
				if gctx.Err() != nil {
					return nil
				}
				oc, ok := o.process(gctx, item, opts)
				if !ok {
					continue
				}
				select {
				case outcomes <- oc:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	g.Wait()
	close(outcomes)
	<-aggDone

	res.Cancelled = ctx.Err() != nil
	for _, item := range work {
		if !cp.ProcessedIDs.Has(item.target.Key) {
			res.Pending = append(res.Pending, item.target.Key)
		}
	}
	pendingIdentifiers.Set(0)

	if saveErr != nil {
		return res, saveErr
	}
	if err := save(); err != nil {
		logger.Error().Err(err).Msg("final checkpoint save failed")
		return res, err
	}

	sum := cp.Summary()
	logger.Info().
		Int("processed", res.Processed).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Int("ambiguous", sum.Ambiguous).
		Int("pending", len(res.Pending)).
		Bool("cancelled", res.Cancelled).
		Msg("harvest finished")

	if res.Cancelled {
		return res, ctx.Err()
	}
	return res, nil
}

// plan normalizes the input into a work list. Blank and duplicate
// identifiers are dropped; identifiers already processed in cp are
// reported as skipped.
func (o *Orchestrator) plan(identifiers []string, cp *types.Checkpoint, res *Result) []workItem {
	seen := make(map[string]bool, len(identifiers))
	var work []workItem
	for _, raw := range identifiers {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		target, err := o.resolve(raw)
		if target.Key == "" {
			target.Key = raw
		}
		if seen[target.Key] {
			continue
		}
		seen[target.Key] = true
		if cp.ProcessedIDs.Has(target.Key) {
			res.Skipped = append(res.Skipped, target.Key)
			continue
		}
		work = append(work, workItem{target: target, err: err})
	}
	sort.Strings(res.Skipped)
	return work
}

// process produces the outcome for one identifier. It reports false when
// the run was cancelled before the identifier finished.
func (o *Orchestrator) process(ctx context.Context, item workItem, opts Options) (types.FetchOutcome, bool) {
	key := item.target.Key
	if item.err != nil {
		return types.Failure(key, item.err.Error()), true
	}

	ictx := ctx
	if opts.IdentifierTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, opts.IdentifierTimeout)
		defer cancel()
	}

	fail := func(err error) (types.FetchOutcome, bool) {
		if ctx.Err() != nil {
			return types.FetchOutcome{}, false
		}
		oc := types.Failure(key, failureReason(err, opts.IdentifierTimeout))
		oc.Attempts = entrez.Attempts(err)
		return oc, true
	}

	recordID := item.target.RecordID
	if recordID == "" {
		ids, err := o.api.Search(ictx, item.target.Query, opts.SearchLimit)
		if err != nil {
			return fail(err)
		}
		switch len(ids) {
		case 0:
			return types.Failure(key, "not found"), true
		case 1:
			recordID = ids[0]
		default:
			candidates := append([]string(nil), ids...)
			sort.Strings(candidates)
			return types.Ambiguous(key, candidates), true
		}
	}

	raw, err := o.api.Fetch(ictx, recordID)
	if err != nil {
		return fail(err)
	}
	doc, err := o.parse(raw, recordID)
	if err != nil {
		return fail(err)
	}
	return types.Success(key, doc), true
}

// failureReason renders err as the reason stored in the checkpoint.
func failureReason(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out after %s", timeout)
	case errors.Is(err, entrez.ErrNotFound):
		return "not found"
	default:
		return err.Error()
	}
}

func logOutcome(logger zerolog.Logger, oc types.FetchOutcome) {
	switch oc.Kind {
	case types.OutcomeFailure:
		logger.Warn().Str("id", oc.Identifier).Str("reason", oc.Reason).Int("attempts", oc.Attempts).Msg("identifier failed")
	case types.OutcomeAmbiguous:
		logger.Warn().Str("id", oc.Identifier).Strs("candidates", oc.Candidates).Msg("identifier is ambiguous")
	default:
		logger.Debug().Str("id", oc.Identifier).Str("kind", string(oc.Kind)).Msg("identifier done")
	}
}

func batches(items []workItem, size int) [][]workItem {
	var out [][]workItem
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
