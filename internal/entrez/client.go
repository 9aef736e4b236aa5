// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package entrez is a rate-limited, retrying client for the NCBI
// E-utilities search (esearch) and fetch (efetch) endpoints.
//
// Every HTTP attempt, including retries, first takes a permit from the
// shared limiter, so retries never push the request rate above the bound.
package entrez

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/pdiddy/pmc-harvest/internal/httputil"
	"github.com/pdiddy/pmc-harvest/internal/logging"
	"github.com/pdiddy/pmc-harvest/pkg/types"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pmc_harvest_entrez_requests_total",
	Help: "Total number of E-utilities HTTP attempts by operation and outcome",
}, []string{"op", "outcome"})

// Limiter hands out request permits.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Client talks to E-utilities for one database.
type Client struct {
	cfg     types.EntrezConfig
	http    *http.Client
	limiter Limiter
	policy  httputil.Policy
	tune    func(*httputil.Retrier)
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetrierHook adjusts each Retrier before use. Tests replace its
// Sleep and Rand through this hook.
func WithRetrierHook(fn func(*httputil.Retrier)) Option {
	return func(c *Client) { c.tune = fn }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// New creates a Client. Empty configuration fields take the defaults from
// types.DefaultPipelineConfig.
func New(cfg types.EntrezConfig, limiter Limiter, retry types.RetryConfig, opts ...Option) *Client {
	def := types.DefaultPipelineConfig().Entrez
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Tool == "" {
		cfg.Tool = def.Tool
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = def.SearchLimit
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		policy:  httputil.PolicyFrom(retry),
		log:     logging.NewLogger("entrez"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Database returns the Entrez database the client queries.
func (c *Client) Database() string { return c.cfg.Database }

// esearchResponse captures the fields we need from an esearch JSON reply.
type esearchResponse struct {
	Error  string `json:"error"`
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
		Error  string   `json:"ERROR"`
	} `json:"esearchresult"`
}

// Search runs an esearch query and returns up to limit record IDs in
// upstream order. A limit of zero uses the configured SearchLimit. In the
// pmc database IDs are returned with the "PMC" prefix.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &Error{Op: "esearch", Err: fmt.Errorf("%w: empty query", ErrMalformedRequest)}
	}
	if limit <= 0 {
		limit = c.cfg.SearchLimit
	}

	params := c.params()
	params.Set("term", query)
	params.Set("retmax", strconv.Itoa(limit))
	params.Set("retmode", "json")

	var ids []string
	attempts, err := c.do(ctx, "esearch", params, func(body []byte) error {
		var sr esearchResponse
		if err := json.Unmarshal(body, &sr); err != nil {
			return fmt.Errorf("%w: decoding esearch response: %v", ErrMalformedRequest, err)
		}
		if err := classifyErrorMessage(sr.Error); err != nil {
			return err
		}
		if sr.Result.Error != "" {
			return fmt.Errorf("%w: %s", ErrMalformedRequest, sr.Result.Error)
		}
		ids = ids[:0]
		for _, id := range sr.Result.IDList {
			ids = append(ids, c.canonical(id))
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "esearch", ID: query, attempts: attempts, Err: err}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Fetch retrieves the full XML record for one ID.
func (c *Client) Fetch(ctx context.Context, id string) ([]byte, error) {
	raw := c.upstreamID(id)
	if raw == "" {
		return nil, &Error{Op: "efetch", ID: id, Err: fmt.Errorf("%w: empty id", ErrMalformedRequest)}
	}

	params := c.params()
	params.Set("id", raw)
	params.Set("retmode", "xml")

	var payload []byte
	attempts, err := c.do(ctx, "efetch", params, func(body []byte) error {
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			var er struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(trimmed, &er); err == nil {
				if err := classifyErrorMessage(er.Error); err != nil {
					return err
				}
			}
			return fmt.Errorf("%w: unexpected JSON from efetch", ErrMalformedRequest)
		}
		if !hasRecord(trimmed) {
			return ErrNotFound
		}
		payload = body
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "efetch", ID: id, attempts: attempts, Err: err}
	}
	return payload, nil
}

// do performs one logical request with retries. decode runs on every 2xx
// body and may itself return a transient error (e.g. a rate-limit body).
func (c *Client) do(ctx context.Context, op string, params url.Values, decode func([]byte) error) (int, error) {
	endpoint := c.cfg.BaseURL + "/" + op + ".fcgi?" + params.Encode()

	r := httputil.NewRetrier(op, c.policy)
	r.Log = c.log.With().Str("op", op).Logger()
	if c.tune != nil {
		c.tune(r)
	}

	return r.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			requestsTotal.WithLabelValues(op, "network_error").Inc()
			return err
		}
		body, err := httputil.ReadBody(resp)
		if err != nil {
			requestsTotal.WithLabelValues(op, "http_"+strconv.Itoa(resp.StatusCode)).Inc()
			return classifyStatus(err)
		}
		if err := decode(body); err != nil {
			requestsTotal.WithLabelValues(op, "rejected").Inc()
			return err
		}
		requestsTotal.WithLabelValues(op, "ok").Inc()
		c.log.Debug().Int("attempt", attempt).Int("bytes", len(body)).Msg("request complete")
		return nil
	})
}

func (c *Client) params() url.Values {
	v := url.Values{}
	v.Set("db", c.cfg.Database)
	v.Set("tool", c.cfg.Tool)
	if c.cfg.Email != "" {
		v.Set("email", c.cfg.Email)
	}
	if c.cfg.APIKey != "" {
		v.Set("api_key", c.cfg.APIKey)
	}
	return v
}

// canonical renders an upstream UID in the form callers use.
func (c *Client) canonical(uid string) string {
	uid = strings.TrimSpace(uid)
	if c.cfg.Database == "pmc" && !strings.HasPrefix(strings.ToUpper(uid), "PMC") {
		return "PMC" + uid
	}
	return uid
}

// upstreamID renders a caller ID in the form efetch expects.
func (c *Client) upstreamID(id string) string {
	id = strings.TrimSpace(id)
	if c.cfg.Database == "pmc" && len(id) > 3 && strings.EqualFold(id[:3], "PMC") {
		return id[3:]
	}
	return id
}

// classifyStatus maps HTTP failures onto the client's error taxonomy.
// Transient statuses pass through unchanged for the retrier.
func classifyStatus(err error) error {
	var se *httputil.StatusError
	if !errors.As(err, &se) || se.Transient() {
		return err
	}
	if strings.Contains(strings.ToLower(se.Body), "rate limit") {
		return fmt.Errorf("%w: %v", httputil.ErrRateLimited, err)
	}
	switch se.Code {
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
}

// classifyErrorMessage interprets an "error" member of an E-utilities JSON body.
func classifyErrorMessage(msg string) error {
	msg = strings.TrimSpace(msg)
	switch {
	case msg == "":
		return nil
	case strings.Contains(strings.ToLower(msg), "rate limit"):
		return fmt.Errorf("%w: %s", httputil.ErrRateLimited, msg)
	default:
		return fmt.Errorf("%w: %s", ErrMalformedRequest, msg)
	}
}

// hasRecord reports whether an efetch XML body contains at least one article.
func hasRecord(body []byte) bool {
	return bytes.Contains(body, []byte("<article")) || bytes.Contains(body, []byte("<PubmedArticle")) ||
		bytes.Contains(body, []byte("<PubmedBookArticle"))
}
