// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pmc-harvest/pkg/types"
)

// newTestRetrier records sleeps instead of waiting.
func newTestRetrier(p Policy) (*Retrier, *[]time.Duration, *[]Transition) {
	var sleeps []time.Duration
	var transitions []Transition
	r := NewRetrier("test", p)
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	r.Rand = func() float64 { return 0 }
	r.OnTransition = func(tr Transition) { transitions = append(transitions, tr) }
	return r, &sleeps, &transitions
}

var testPolicy = Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 3 * time.Second}

func TestDo_ImmediateSuccess(t *testing.T) {
	r, sleeps, transitions := newTestRetrier(testPolicy)

	attempts, err := r.Do(context.Background(), func(context.Context, int) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *sleeps)

	var states []State
	for _, tr := range *transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []State{StateAttempting, StateSuccess}, states)
}

func TestDo_TransientTwiceThenSuccess(t *testing.T) {
	r, sleeps, transitions := newTestRetrier(testPolicy)

	attempts, err := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt <= 2 {
			return &StatusError{Code: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)

	var states []State
	for _, tr := range *transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []State{
		StateAttempting,
		StateRetryScheduled, StateAttempting,
		StateRetryScheduled, StateAttempting,
		StateSuccess,
	}, states)
}

func TestDo_Exhausted(t *testing.T) {
	r, sleeps, _ := newTestRetrier(testPolicy)
	cause := &StatusError{Code: http.StatusTooManyRequests}

	attempts, err := r.Do(context.Background(), func(context.Context, int) error { return cause })
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.ErrorIs(t, err, ErrRetryExhausted)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 4, ex.Attempts)
	assert.Same(t, cause, ex.Err)

	// Doubling is capped at MaxDelay.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, *sleeps)
}

func TestDo_PermanentNotRetried(t *testing.T) {
	r, sleeps, _ := newTestRetrier(testPolicy)
	var calls int

	attempts, err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		return &StatusError{Code: http.StatusBadRequest}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
	assert.False(t, errors.Is(err, ErrRetryExhausted))
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier("test", testPolicy)
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return SleepContext(ctx, d)
	}

	attempts, err := r.Do(ctx, func(context.Context, int) error { return ErrRateLimited })
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRetrier("test", testPolicy)

	called := false
	attempts, err := r.Do(ctx, func(context.Context, int) error { called = true; return nil })
	assert.Equal(t, 0, attempts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5}
	tests := []struct {
		n    int
		r    float64
		want time.Duration
	}{
		{n: 0, r: 0, want: 100 * time.Millisecond},
		{n: 1, r: 0, want: 200 * time.Millisecond},
		{n: 3, r: 0, want: 800 * time.Millisecond},
		{n: 4, r: 0, want: time.Second},
		{n: 0, r: 0.5, want: 125 * time.Millisecond},
		{n: 10, r: 0.5, want: time.Second + 250*time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.n, tt.r), "n=%d r=%v", tt.n, tt.r)
	}
}

func TestPolicyFromDefaults(t *testing.T) {
	p := PolicyFrom(types.RetryConfig{Jitter: 7})
	assert.Equal(t, types.DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.BaseDelay)
	assert.Equal(t, 1.0, p.Jitter)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "429", err: &StatusError{Code: 429}, want: true},
		{name: "503", err: &StatusError{Code: 503}, want: true},
		{name: "400", err: &StatusError{Code: 400}, want: false},
		{name: "404", err: &StatusError{Code: 404}, want: false},
		{name: "rate limit body", err: ErrRateLimited, want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "plain", err: errors.New("parse failure"), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransient_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := http.Get(url)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestReadBody(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	body, err := ReadBody(resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "?fail=1&api_key=secret")
	require.NoError(t, err)
	_, err = ReadBody(resp)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "upstream down", se.Body)
	assert.NotContains(t, se.Error(), "secret")
	assert.True(t, IsTransient(err))
}
