// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package entrez

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pmc-harvest/internal/httputil"
	"github.com/pdiddy/pmc-harvest/pkg/types"
)

// countingLimiter grants every permit and counts them.
type countingLimiter struct{ n atomic.Int32 }

func (l *countingLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.n.Add(1)
	return nil
}

const articleXML = `<?xml version="1.0"?>
<pmc-articleset><article><front><article-meta>
<article-id pub-id-type="pmc">PMC123</article-id>
</article-meta></front></article></pmc-articleset>`

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *countingLimiter) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	lim := &countingLimiter{}
	c := New(types.EntrezConfig{BaseURL: ts.URL, Database: "pmc", APIKey: "k3y", Email: "me@example.com"},
		lim,
		types.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		WithRetrierHook(func(r *httputil.Retrier) {
			r.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
		}),
	)
	return c, lim
}

func TestSearch_ReturnsPrefixedIDs(t *testing.T) {
	c, lim := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/esearch.fcgi", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "pmc", q.Get("db"))
		assert.Equal(t, "10.1/abc[doi]", q.Get("term"))
		assert.Equal(t, "5", q.Get("retmax"))
		assert.Equal(t, "json", q.Get("retmode"))
		assert.Equal(t, "k3y", q.Get("api_key"))
		assert.Equal(t, "me@example.com", q.Get("email"))
		assert.Equal(t, "pmc-harvest", q.Get("tool"))
		w.Write([]byte(`{"esearchresult":{"count":"2","idlist":["111","PMC222"]}}`))
	})

	ids, err := c.Search(context.Background(), "10.1/abc[doi]", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"PMC111", "PMC222"}, ids)
	assert.Equal(t, int32(1), lim.n.Load())
}

func TestSearch_EmptyResult(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"esearchresult":{"count":"0","idlist":[]}}`))
	})

	ids, err := c.Search(context.Background(), "nothing[pmid]", 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSearch_TransientTwiceThenSuccess(t *testing.T) {
	var calls atomic.Int32
	c, lim := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.Write([]byte(`{"error":"API rate limit exceeded","api-key":"1.2.3.4","count":"11","limit":"10"}`))
		default:
			w.Write([]byte(`{"esearchresult":{"count":"1","idlist":["42"]}}`))
		}
	})

	ids, err := c.Search(context.Background(), "x", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"PMC42"}, ids)
	assert.Equal(t, int32(3), calls.Load())
	// Each attempt takes its own permit.
	assert.Equal(t, int32(3), lim.n.Load())
}

func TestSearch_MalformedNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Invalid query"}`))
	})

	_, err := c.Search(context.Background(), "x", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedRequest)
	assert.Equal(t, 1, Attempts(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_ResultErrorIsMalformed(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"esearchresult":{"ERROR":"Invalid db name specified: pmcx"}}`))
	})

	_, err := c.Search(context.Background(), "x", 1)
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestSearch_EmptyQuery(t *testing.T) {
	c, lim := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := c.Search(context.Background(), "  ", 1)
	assert.ErrorIs(t, err, ErrMalformedRequest)
	assert.Equal(t, int32(0), lim.n.Load())
}

func TestFetch_StripsPrefix(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/efetch.fcgi", r.URL.Path)
		assert.Equal(t, "123", r.URL.Query().Get("id"))
		assert.Equal(t, "xml", r.URL.Query().Get("retmode"))
		w.Write([]byte(articleXML))
	})

	body, err := c.Fetch(context.Background(), "PMC123")
	require.NoError(t, err)
	assert.Contains(t, string(body), "PMC123")
}

func TestFetch_NotFound(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`<pmc-articleset><error id="999">The following PMCID is not available: 999</error></pmc-articleset>`))
	})

	_, err := c.Fetch(context.Background(), "PMC999")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_Exhausted(t *testing.T) {
	var calls atomic.Int32
	c, lim := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Fetch(context.Background(), "PMC1")
	require.Error(t, err)
	assert.ErrorIs(t, err, httputil.ErrRetryExhausted)
	assert.Equal(t, 3, Attempts(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(3), lim.n.Load())

	var ee *Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "efetch", ee.Op)
	assert.Equal(t, "PMC1", ee.ID)
}

func TestFetch_Cancelled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(articleXML))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "PMC1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetch_PubMedDatabaseKeepsID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pubmed", r.URL.Query().Get("db"))
		assert.Equal(t, "31452104", r.URL.Query().Get("id"))
		w.Write([]byte(`<PubmedArticleSet><PubmedArticle></PubmedArticle></PubmedArticleSet>`))
	}))
	defer ts.Close()

	c := New(types.EntrezConfig{BaseURL: ts.URL, Database: "pubmed"}, &countingLimiter{}, types.RetryConfig{})
	_, err := c.Fetch(context.Background(), "31452104")
	require.NoError(t, err)
}
