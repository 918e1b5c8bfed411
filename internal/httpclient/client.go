// Package httpclient wraps net/http with the pooling and streaming helpers
// every proxy component needs to talk to an upstream. Adapted from
// pkg/internal/http in the teacher AI SDK, extended with a per-host rate
// limiter and exponential-backoff retry since this proxy, unlike the SDK's
// one-shot provider calls, must survive transient upstream failures
// transparently (spec §4.1, §7).
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// DefaultUpstreamTimeout is the default per-request timeout (spec §5: 120s).
const DefaultUpstreamTimeout = 120 * time.Second

// Config configures a Client. Unlike the teacher's SDK client this one is
// built for a long-lived proxy process: the transport is sized per spec §5
// ("up to 64 per host, 16 idle").
type Config struct {
	BaseURL string
	Headers map[string]string
	Timeout time.Duration

	// RatePerSecond bounds outbound requests to the upstream host; 0 disables
	// limiting. Gives golang.org/x/time/rate a home in the retry path so a
	// burst of client-side retries cannot itself trip the remote's limiter.
	RatePerSecond float64
}

// Client is a pooled HTTP client bound to one upstream base URL.
type Client struct {
	http    *http.Client
	baseURL string
	headers map[string]string
	limiter *rate.Limiter
}

// New builds a Client. Connection pooling mirrors spec §5's shared-resource
// policy: keep-alive, up to 64 connections per host, 16 idle.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}

	transport := &http.Transport{
		MaxConnsPerHost:     64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1)
	}

	return &Client{
		http:    &http.Client{Timeout: timeout, Transport: transport},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		limiter: limiter,
	}
}

// CloseIdleConnections tears down pooled upstream sockets on stop (spec §4.1:
// "Stops when asked, closing all idle keep-alive upstream sockets").
func (c *Client) CloseIdleConnections() { c.http.CloseIdleConnections() }

// Request describes an outbound HTTP request.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// Do performs a single request with no retry; any retry loop lives in the
// caller (P-Translate's sendWithRetry builds one from RetryableNetError,
// RetryableStatus and Backoff).
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.http.Do(httpReq)
}

// PostJSON marshals v, POSTs it, and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, v, out any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}
	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

// StatusError is returned when an upstream responds with a >=400 status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, string(e.Body))
}

// RetryableNetError reports whether err is one of the transient network
// failures spec §4.1 names as retryable.
func RetryableNetError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{
		"connection reset", "ECONNRESET",
		"i/o timeout", "ETIMEDOUT",
		"broken pipe", "EPIPE",
		"connection refused", "ECONNREFUSED",
		"no such host", "ENOTFOUND",
		"no route to host", "EHOSTUNREACH",
		"network is unreachable", "ENETUNREACH",
		"socket hang up", "socket disconnected",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	var netErr net.Error
	return asNetError(err, &netErr) && netErr.Timeout()
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var retryableStatuses = map[int]bool{
	408: true, 409: true, 425: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
}

// RetryableStatus reports whether an upstream HTTP status code is one of the
// statuses spec §4.1 names as retryable.
func RetryableStatus(code int) bool { return retryableStatuses[code] }

// Backoff builds the exponential backoff policy spec §4.1 describes:
// 1s/2s/... capped at 15s with jitter, extended to a ~3s base on
// ECONNRESET-class resets.
func Backoff(resetExtended bool) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if resetExtended {
		b.InitialInterval = 3 * time.Second
	} else {
		b.InitialInterval = 1 * time.Second
	}
	b.Multiplier = 2
	b.MaxInterval = 15 * time.Second
	b.RandomizationFactor = 0.2
	return b
}
