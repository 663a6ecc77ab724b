// Package httpx provides the shared HTTP client used by every source
// adapter: pooled connections, a browser-like request signature, and a
// bounded retry policy for transient status codes.
package httpx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Browser-like signature. Some of the crawled sites reject requests that
// carry a default Go client User-Agent.
const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/123.0.0.0 Safari/537.36"
	DefaultAcceptLanguage = "en-US,en;q=0.9"
)

// Config controls client behavior.
type Config struct {
	Timeout        time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	UserAgent      string
	AcceptLanguage string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = DefaultAcceptLanguage
	}
	return c
}

// Client wraps http.Client with retry and default headers. It carries a
// cookie jar because the anti-forgery flow needs server-set cookies to
// survive between the bootstrap and the search request.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// New builds a Client with connection pooling and a fresh cookie jar.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Client{
		httpClient: &http.Client{
			Transport: newPooledTransport(),
			Jar:       jar,
			Timeout:   cfg.Timeout,
		},
		cfg:    cfg,
		logger: logger,
		sleep:  time.Sleep,
	}, nil
}

func newPooledTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Do executes the request, retrying transient failures. Only GET and POST
// requests are retried, and only on connection errors or 429/5xx statuses.
// Backoff doubles per attempt from BackoffBase up to BackoffMax with no
// jitter, so request timing is reproducible.
//
// The final response is returned regardless of its status code; callers
// interpret protocol-level failures themselves.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.applyDefaultHeaders(req)

	retryable := req.Method == http.MethodGet || req.Method == http.MethodPost

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.rewind(req); err != nil {
				return nil, err
			}
			c.sleep(c.backoff(attempt - 1))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if !retryable || req.Context().Err() != nil {
				return nil, fmt.Errorf("http %s %s: %w", req.Method, req.URL, err)
			}
			lastErr = err
			c.logger.Warn("request failed, will retry",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		if retryable && retryableStatus(resp.StatusCode) && attempt < c.cfg.MaxAttempts {
			drain(resp)
			lastErr = &StatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}
			c.logger.Warn("transient status, will retry",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt))
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("http %s %s: retries exhausted: %w", req.Method, req.URL, lastErr)
}

// Get issues a context-bound GET through the retry path.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.Do(req)
}

// Cookies returns the jar cookies currently valid for u.
func (c *Client) Cookies(u *url.URL) []*http.Cookie {
	if c.httpClient.Jar == nil {
		return nil
	}
	return c.httpClient.Jar.Cookies(u)
}

func (c *Client) applyDefaultHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", c.cfg.AcceptLanguage)
	}
}

func (c *Client) backoff(retries int) time.Duration {
	delay := c.cfg.BackoffBase << (retries - 1)
	if delay > c.cfg.BackoffMax || delay <= 0 {
		delay = c.cfg.BackoffMax
	}
	return delay
}

// rewind restores the request body before a retry attempt.
func (c *Client) rewind(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("rewind request body: %w", err)
	}
	req.Body = body
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
