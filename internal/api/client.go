// Package api implements the ONC Oceans 3.0 REST client used by hydrodl.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/oceanhydro/hydrodl/internal/config"
	"github.com/oceanhydro/hydrodl/internal/constants"
	"github.com/oceanhydro/hydrodl/internal/http"
	"github.com/oceanhydro/hydrodl/internal/logging"
	"github.com/oceanhydro/hydrodl/internal/ratelimit"
)

// retryLogger implements retryablehttp.LeveledLogger on top of our logger.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg("[retry] " + msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only log errors and warnings, not all info
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("[retry] " + msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg("[retry] " + msg)
}

// apiMetrics tracks API usage statistics
type apiMetrics struct {
	sync.Mutex
	totalCalls    int64
	callsByPath   map[string]int64
	windowStart   time.Time
	callsInWindow int64
}

// Client talks to the ONC API. It is safe for concurrent use.
type Client struct {
	httpClient *nethttp.Client
	baseURL    string
	token      string
	limiter    *ratelimit.RateLimiter
	logger     *logging.Logger
	metrics    *apiMetrics

	apiTimeout    time.Duration
	runPollPeriod time.Duration
	runMaxWait    time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithRunPollPeriod overrides the interval between status polls in RunJob.
func WithRunPollPeriod(d time.Duration) Option {
	return func(c *Client) { c.runPollPeriod = d }
}

// WithRunMaxWait bounds how long RunJob waits for a run to finish.
func WithRunMaxWait(d time.Duration) Option {
	return func(c *Client) { c.runMaxWait = d }
}

// WithRateLimiter replaces the default limiter.
func WithRateLimiter(rl *ratelimit.RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

// NewClient creates a new API client
func NewClient(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("API base URL is empty")
	}

	httpClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	// Wrap with retry logic. Only connection failures, 429 and gateway
	// errors are retried here; HTTP 500 is left to the caller, which knows
	// whether the call is safe to repeat.
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = constants.TransportRetryMax
	retryClient.RetryWaitMin = constants.TransportRetryWaitMin
	retryClient.RetryWaitMax = constants.TransportRetryWaitMax
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = &retryLogger{logger: logger}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.APITimeout
	}

	c := &Client{
		httpClient:    retryClient.StandardClient(),
		baseURL:       strings.TrimSuffix(base, "/") + "/",
		token:         cfg.Token,
		limiter:       ratelimit.NewONCRateLimiter(cfg.RequestsPerSecond),
		logger:        logger,
		apiTimeout:    timeout,
		runPollPeriod: constants.RunPollPeriod,
		runMaxWait:    constants.RunMaxWait,
		metrics: &apiMetrics{
			callsByPath: make(map[string]int64),
			windowStart: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// checkRetry is the transport-level retry policy.
func checkRetry(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case nethttp.StatusTooManyRequests, nethttp.StatusBadGateway,
		nethttp.StatusServiceUnavailable, nethttp.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

// endpoint builds the absolute URL for path with the token attached.
func (c *Client) endpoint(path string, params url.Values) string {
	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("token", c.token)
	return c.baseURL + strings.TrimPrefix(path, "/") + "?" + q.Encode()
}

// doRequest performs a GET with authentication and rate limiting.
// The caller owns the response body.
func (c *Client) doRequest(ctx context.Context, path string, params url.Values) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}
	c.trackCall(path)

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.endpoint(path, params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Str("path", path).Err(redactToken(err, c.token)).Msg("API call failed")
		return nil, fmt.Errorf("request failed: %w", redactToken(err, c.token))
	}

	if resp.StatusCode == nethttp.StatusTooManyRequests {
		ev := c.logger.Warn().Str("path", path)
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			ev = ev.Str("retry_after", retryAfter)
		}
		ev.Msg("THROTTLED: ONC rate limit exceeded")
	}

	return resp, nil
}

// getJSON performs a GET bounded by the API timeout and decodes a 200
// response into out. Any other status becomes an *APIError.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	body, err := c.getRaw(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// getRaw is getJSON without decoding.
func (c *Client) getRaw(ctx context.Context, path string, params url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	resp, err := c.doRequest(ctx, path, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return nil, newAPIError(resp, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	return body, nil
}

func (c *Client) trackCall(path string) {
	c.metrics.Lock()
	defer c.metrics.Unlock()

	c.metrics.totalCalls++
	c.metrics.callsByPath[path]++
	c.metrics.callsInWindow++

	if elapsed := time.Since(c.metrics.windowStart); elapsed >= 30*time.Second {
		c.logger.Debug().
			Float64("req_per_sec", float64(c.metrics.callsInWindow)/elapsed.Seconds()).
			Int64("total_calls", c.metrics.totalCalls).
			Msg("API usage")
		c.metrics.callsInWindow = 0
		c.metrics.windowStart = time.Now()
	}
}

// CallCount returns the number of requests issued to path so far.
func (c *Client) CallCount(path string) int64 {
	c.metrics.Lock()
	defer c.metrics.Unlock()
	return c.metrics.callsByPath[path]
}

// redactToken strips the token from URL errors so it never reaches logs.
func redactToken(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "REDACTED"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// drain discards up to 4KB so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, body, 4096)
	body.Close()
}
