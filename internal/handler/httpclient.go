package handler

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/genomebridge/genome-bridge/internal/errkind"
)

const (
	maxResponseBytes  = 4 << 20 // upstream responses are capped at 4MB
	perHostConcurrent = 4
	defaultRetries    = 2
	baseBackoff       = 500 * time.Millisecond
)

// Client is the shared upstream HTTP client. It applies a global request
// timeout, a per-host concurrency cap of 4, a per-host rate limiter, and a
// bounded retry policy (exponential backoff with ±20% jitter) on network
// errors and 5xx responses. 429 responses honour Retry-After and still count
// against the retry budget.
type Client struct {
	http    *http.Client
	retries int

	mu       sync.Mutex
	hostSem  map[string]chan struct{}
	hostRate map[string]*rate.Limiter
}

// NewClient builds the shared client with the given global timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: perHostConcurrent,
				MaxConnsPerHost:     perHostConcurrent,
			},
		},
		retries:  defaultRetries,
		hostSem:  make(map[string]chan struct{}),
		hostRate: make(map[string]*rate.Limiter),
	}
}

// SetHostRate overrides the request rate for one host (e.g. NCBI without an
// API key allows 3 req/s). The default per-host limiter is 10 req/s.
func (c *Client) SetHostRate(host string, perSecond float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hostRate[host] = rate.NewLimiter(rate.Limit(perSecond), 1)
}

func (c *Client) limiterFor(host string) (chan struct{}, *rate.Limiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, ok := c.hostSem[host]
	if !ok {
		sem = make(chan struct{}, perHostConcurrent)
		c.hostSem[host] = sem
	}
	lim, ok := c.hostRate[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(10), 2)
		c.hostRate[host] = lim
	}
	return sem, lim
}

// Request describes one upstream call.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    []byte // sent as-is; set a Content-Type header alongside
}

// Do executes the request with retries and returns the response body.
// Non-2xx terminal responses become UpstreamError (or UpstreamRateLimited
// for 429, NotConfigured for 401/403).
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "invalid upstream url")
	}

	sem, lim := c.limiterFor(parsed.Host)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt, lastErr); err != nil {
				return nil, err
			}
		}

		body, retryable, err := c.doOnce(ctx, req.Method, target, req.Headers, req.Body, sem, lim)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		log.Debug().Err(err).Str("host", parsed.Host).Int("attempt", attempt+1).
			Msg("upstream request failed, retrying")
	}
	return nil, lastErr
}

// doOnce performs a single attempt. The bool result says whether the failure
// is retryable.
func (c *Client) doOnce(ctx context.Context, method, target string, headers map[string]string, body []byte, sem chan struct{}, lim *rate.Limiter) ([]byte, bool, error) {
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return nil, false, ctxError(ctx)
	}
	if err := lim.Wait(ctx); err != nil {
		return nil, false, ctxError(ctx)
	}

	if method == "" {
		method = http.MethodGet
	}
	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(string(body))
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, false, errkind.Wrap(errkind.Internal, err, "build upstream request")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "genome-bridge/0.1")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctxError(ctx)
		}
		return nil, true, errkind.Wrap(errkind.UpstreamError, err, "upstream request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, errkind.Wrap(errkind.UpstreamError, err, "read upstream response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		e := errkind.E(errkind.UpstreamRateLimited, "upstream rate limited (%s)", resp.Status)
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			e.Details = map[string]any{"retry_after_ms": ra.Milliseconds()}
		}
		return nil, true, e
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, errkind.E(errkind.NotConfigured, "upstream rejected credentials (%s)", resp.Status)
	case resp.StatusCode >= 500:
		return nil, true, errkind.E(errkind.UpstreamError, "upstream error %s", resp.Status)
	default:
		return nil, false, errkind.E(errkind.UpstreamError, "upstream error %s: %s", resp.Status, snippet(data))
	}
}

// GetJSON fetches and decodes a JSON document.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	data, err := c.Do(ctx, Request{URL: rawURL, Query: query})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errkind.Wrap(errkind.UpstreamError, err, "decode upstream JSON")
	}
	return nil
}

// sleepBackoff waits 500ms × 2^(attempt-1) with ±20% jitter, or longer when
// the previous failure carried a Retry-After hint.
func sleepBackoff(ctx context.Context, attempt int, lastErr error) error {
	delay := baseBackoff * time.Duration(1<<(attempt-1))
	jitter := time.Duration(float64(delay) * 0.2 * (rand.Float64()*2 - 1))
	delay += jitter

	if be := errkind.AsError(lastErr); be.Kind == errkind.UpstreamRateLimited && be.Details != nil {
		if ms, ok := be.Details["retry_after_ms"].(int64); ok {
			if ra := time.Duration(ms) * time.Millisecond; ra > delay {
				delay = ra
			}
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctxError(ctx)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func ctxError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errkind.E(errkind.TimedOut, "upstream call exceeded deadline")
	}
	return errkind.E(errkind.Cancelled, "upstream call cancelled")
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
