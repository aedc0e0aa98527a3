// Package download fetches candidate image URLs over HTTP.
//
// The client only transfers bytes. Judging whether the bytes are an
// acceptable image is left to imgscraper/pkg/acceptor, which is why a
// final non-200 response is returned as a Response rather than an error.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"imgscraper/pkg/config"
	errs "imgscraper/pkg/errors"
	"imgscraper/pkg/logger"
	"imgscraper/pkg/metrics"
	"imgscraper/pkg/ratelimit"
	"imgscraper/pkg/retry"
)

// Response is the outcome of a single image fetch
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte // nil unless StatusCode is 200
}

// Client downloads images with timeout, retry and optional pacing
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	timeout    time.Duration
	maxBytes   int64
	retry      retry.Config
	limiter    ratelimit.Limiter
	metrics    *metrics.Metrics
	logger     logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter replaces the rate limiter derived from configuration
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithMetrics records request counts and latency
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a download client from configuration
func NewClient(cfg config.DownloadConfig, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.NewNopLogger()
	}

	c := &Client{
		httpClient: &http.Client{},
		headers: map[string]string{
			"User-Agent":      cfg.UserAgent,
			"Accept":          "image/avif,image/webp,image/apng,image/*,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxImageBytes,
		retry:    *retry.DefaultConfig(),
		limiter:  ratelimit.NewPerSecond(cfg.RequestsPerSecond),
		logger:   log,
	}
	c.retry.MaxAttempts = cfg.RetryAttempts
	c.retry.Logger = log
	if backoff, err := retry.NewBackoff(cfg.RetryBackoff, cfg.RetryDelay); err == nil {
		c.retry.Backoff = backoff
	} else {
		// Validate rejects unknown names; keep the default schedule otherwise
		log.WithError(err).Warn("Falling back to exponential backoff")
	}
	if cfg.UserAgent == "" {
		delete(c.headers, "User-Agent")
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads url. Transport failures are returned as network errors
// once retries are exhausted; any HTTP response, successful or not, is
// returned as a Response.
func (c *Client) Fetch(ctx context.Context, url string) (*Response, error) {
	cfg := c.retry
	cfg.RetryIf = func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		var e *errs.Error
		if !errors.As(err, &e) {
			return false
		}
		switch e.Type {
		case errs.ErrorTypeNetwork:
			return true
		case errs.ErrorTypeStatus:
			return errs.IsRetryableStatusCode(e.Code)
		default:
			return false
		}
	}
	cfg.OnRetry = func(int, error, time.Duration) { c.metrics.IncRetries() }

	resp, err := retry.DoWithResult(ctx, func(ctx context.Context) (*Response, error) {
		return c.attempt(ctx, url)
	}, &cfg)

	if err != nil && resp != nil && errs.TypeOf(err) == errs.ErrorTypeStatus {
		// retries exhausted on a retryable status; the response itself is the answer
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt performs one rate limited GET. A retryable status is reported
// as an error alongside the response so the retry loop can act on it.
func (c *Client) attempt(ctx context.Context, url string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "rate limiter wait aborted", err)
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "failed to create request", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("downloading image", map[string]interface{}{
		"url": url,
	})

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(0, time.Since(start))
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "request failed", err)
	}
	defer httpResp.Body.Close()

	resp := &Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
	}

	if httpResp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 64<<10))
		c.metrics.ObserveRequest(httpResp.StatusCode, time.Since(start))
		if errs.IsRetryableStatusCode(httpResp.StatusCode) {
			return resp, errs.WithCode(errs.ErrorTypeStatus, httpResp.StatusCode,
				fmt.Sprintf("server returned status %d", httpResp.StatusCode))
		}
		return resp, nil
	}

	body, err := c.readBody(httpResp.Body)
	duration := time.Since(start)
	c.metrics.ObserveRequest(httpResp.StatusCode, duration)
	if err != nil {
		return nil, err
	}
	resp.Body = body

	c.logger.DebugWithFields("image downloaded", map[string]interface{}{
		"url":      url,
		"size":     len(body),
		"duration": duration,
	})

	return resp, nil
}

// readBody reads at most maxBytes, failing when the body is larger
func (c *Client) readBody(r io.Reader) ([]byte, error) {
	if c.maxBytes <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, errs.Wrap(errs.ErrorTypeNetwork, "failed to read image body", err)
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "failed to read image body", err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, errs.New(errs.ErrorTypeTooLarge, fmt.Sprintf("image exceeds %d bytes", c.maxBytes))
	}
	return body, nil
}
