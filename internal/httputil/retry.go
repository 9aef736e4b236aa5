// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the retry state machine and HTTP response
// helpers shared by upstream clients.
package httputil

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pdiddy/pmc-harvest/pkg/types"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmc_harvest_retries_total",
		Help: "Total number of scheduled retries by operation",
	}, []string{"op"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pmc_harvest_retry_backoff_seconds",
		Help:    "Backoff duration before a retry by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"op"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmc_harvest_retry_exhausted_total",
		Help: "Total number of operations that failed after all attempts",
	}, []string{"op"})
)

// State is a step of one retried operation.
type State int

const (
	StatePending State = iota
	StateAttempting
	StateRetryScheduled
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAttempting:
		return "attempting"
	case StateRetryScheduled:
		return "retry_scheduled"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transition describes one state change. Attempt is the number of attempts
// started so far. Delay is set when entering StateRetryScheduled.
type Transition struct {
	From, To State
	Attempt  int
	Delay    time.Duration
	Err      error
}

// Policy bounds attempts and shapes the backoff between them.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// PolicyFrom converts configuration into a Policy, filling zero values with defaults.
func PolicyFrom(cfg types.RetryConfig) Policy {
	p := Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Jitter:      cfg.Jitter,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = types.DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	p.Jitter = math.Min(math.Max(p.Jitter, 0), 1)
	return p
}

// Delay returns the wait before retry number n (0 for the first retry):
// min(BaseDelay·2^n, MaxDelay) plus up to Jitter of that, scaled by r in [0, 1).
func (p Policy) Delay(n int, r float64) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(n))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d + d*p.Jitter*r)
}

// Retrier drives an operation through the retry state machine
// Pending → Attempting → {Success, RetryScheduled → Attempting, Failed}.
type Retrier struct {
	Policy Policy

	// Op labels metrics and log events (e.g. "esearch").
	Op string

	// Transient reports whether an error is worth retrying. Defaults to IsTransient.
	Transient func(error) bool

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand returns jitter samples in [0, 1). Defaults to math/rand/v2.
	Rand func() float64

	// OnTransition observes every state change.
	OnTransition func(Transition)

	Log zerolog.Logger
}

// NewRetrier returns a Retrier for op with default collaborators.
func NewRetrier(op string, p Policy) *Retrier {
	return &Retrier{
		Policy:    p,
		Op:        op,
		Transient: IsTransient,
		Sleep:     SleepContext,
		Rand:      rand.Float64,
		Log:       log.With().Str("component", "retry").Str("op", op).Logger(),
	}
}

// Do runs fn until it succeeds, fails permanently, exhausts the policy, or
// ctx is done. fn receives the 1-based attempt number. Do returns the
// number of attempts made; after exhaustion the error is an *ExhaustedError.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	transient := r.Transient
	if transient == nil {
		transient = IsTransient
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	rnd := r.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	maxAttempts := max(r.Policy.MaxAttempts, 1)

	var (
		state   = StatePending
		attempt int
		delay   time.Duration
		lastErr error
	)
	move := func(to State, err error) {
		if r.OnTransition != nil {
			r.OnTransition(Transition{From: state, To: to, Attempt: attempt, Delay: delay, Err: err})
		}
		state = to
	}

	for {
		switch state {
		case StatePending:
			move(StateAttempting, nil)

		case StateAttempting:
			if err := ctx.Err(); err != nil {
				move(StateFailed, err)
				return attempt, err
			}
			attempt++
			lastErr = fn(ctx, attempt)
			switch {
			case lastErr == nil:
				if attempt > 1 {
					r.Log.Info().Int("attempt", attempt).Msg("request succeeded after retry")
				}
				move(StateSuccess, nil)
				return attempt, nil
			case ctx.Err() != nil:
				move(StateFailed, ctx.Err())
				return attempt, ctx.Err()
			case !transient(lastErr):
				move(StateFailed, lastErr)
				return attempt, lastErr
			case attempt >= maxAttempts:
				retryExhaustedTotal.WithLabelValues(r.Op).Inc()
				r.Log.Warn().Err(lastErr).Int("attempts", attempt).Msg("retry attempts exhausted")
				err := &ExhaustedError{Attempts: attempt, Err: lastErr}
				move(StateFailed, err)
				return attempt, err
			}
			delay = r.Policy.Delay(attempt-1, rnd())
			retriesTotal.WithLabelValues(r.Op).Inc()
			retryBackoffSeconds.WithLabelValues(r.Op).Observe(delay.Seconds())
			r.Log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying after transient error")
			move(StateRetryScheduled, lastErr)

		case StateRetryScheduled:
			if err := sleep(ctx, delay); err != nil {
				move(StateFailed, err)
				return attempt, err
			}
			delay = 0
			move(StateAttempting, nil)

		default:
			return attempt, lastErr
		}
	}
}

// SleepContext blocks for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
