// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit bounds the rate of upstream requests across all workers.
//
// The Limiter keeps a log of the most recent grant times. A new permit is
// granted only when the grant MaxPerSecond positions back is at least one
// window old, so no rolling window ever holds more than MaxPerSecond grants
// and idle time never accumulates into a burst larger than that.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pdiddy/pmc-harvest/pkg/types"
)

var (
	permitsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmc_harvest_ratelimit_permits_total",
		Help: "Total number of upstream request permits granted",
	})

	permitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pmc_harvest_ratelimit_wait_seconds",
		Help:    "Time callers spent waiting for a permit",
		Buckets: []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Limiter is a sliding-window rate limiter safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	grants []time.Time // ring buffer of the last max grants
	next   int         // oldest entry once the ring is full
	filled int

	now     func() time.Time
	sleep   SleepFunc
	onGrant func(time.Time)
	log     zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock and sleep used by the limiter. A nil
// argument keeps the default.
func WithClock(now func() time.Time, sleep SleepFunc) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithGrantHook registers a function called with each grant time while the
// limiter lock is held. Calls arrive in grant order.
func WithGrantHook(fn func(time.Time)) Option {
	return func(l *Limiter) { l.onGrant = fn }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.log = logger }
}

// New creates a Limiter. A non-positive MaxPerSecond falls back to the
// unauthenticated NCBI default and a zero Window to one second.
func New(cfg types.RateLimitConfig, opts ...Option) *Limiter {
	if cfg.MaxPerSecond <= 0 {
		cfg.MaxPerSecond = types.DefaultRatePerSecond
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	l := &Limiter{
		max:    cfg.MaxPerSecond,
		window: cfg.Window,
		grants: make([]time.Time, cfg.MaxPerSecond),
		now:    time.Now,
		sleep:  sleepContext,
		log:    log.With().Str("component", "ratelimit").Logger(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Acquire blocks until issuing one request is within the rate bound. It
// never denies a permit; the only error is the context's.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := l.now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		wait := l.reserve(now)
		l.mu.Unlock()

		if wait <= 0 {
			waited := now.Sub(start)
			permitsGranted.Inc()
			permitWaitSeconds.Observe(waited.Seconds())
			if waited > 0 {
				l.log.Debug().Dur("waited", waited).Msg("permit granted after wait")
			}
			return nil
		}

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserve records a grant at now and returns zero, or returns how long to
// wait before trying again. Caller holds l.mu.
func (l *Limiter) reserve(now time.Time) time.Duration {
	if l.filled == l.max {
		if elapsed := now.Sub(l.grants[l.next]); elapsed < l.window {
			return l.window - elapsed
		}
	} else {
		l.filled++
	}
	l.grants[l.next] = now
	l.next = (l.next + 1) % l.max
	if l.onGrant != nil {
		l.onGrant(now)
	}
	return 0
}

// MaxPerWindow returns the configured bound.
func (l *Limiter) MaxPerWindow() int { return l.max }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
