package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/helixir/paperfetch/internal/domain"
	"github.com/helixir/paperfetch/internal/observability"
)

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Source names the external API this client talks to. It labels typed
	// errors and metrics (e.g., "pubmed", "europepmc", "crossref").
	Source string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// RetrySchedule overrides the default wait gradient between attempts.
	RetrySchedule []time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "X-API-Key", "Authorization").
	APIKeyHeader string

	// Metrics, if set, records request counts, durations and retries.
	Metrics *observability.Metrics
}

// HTTPClient wraps http.Client with rate limiting and retries.
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	retry       RetryPolicy
	config      HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client with rate limiting.
// The client applies rate limiting before each request attempt and retries
// transient failures: timeouts, connection errors, and HTTP 429/502/503/504.
// A 429 Retry-After header, when present, overrides the wait schedule.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	// Apply defaults
	if cfg.Source == "" {
		cfg.Source = "unknown"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 3
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 1
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "paperfetch/1.0"
	}

	retry := RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		Schedule:   cfg.RetrySchedule,
	}
	if cfg.Metrics != nil {
		source := cfg.Source
		metrics := cfg.Metrics
		retry.OnRetry = func(int, time.Duration, error) {
			metrics.RecordSourceRetry(source)
		}
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		retry:       retry,
		config:      cfg,
	}
}

// Source returns the name of the external API this client talks to.
func (c *HTTPClient) Source() string {
	return c.config.Source
}

// Do executes an HTTP request with rate limiting and retries.
// It waits for the rate limiter before each request attempt, sets the
// User-Agent and optional API key headers, and retries transient failures.
//
// The request body is not preserved across retries; callers must provide
// requests with GetBody set if the body needs to be resent on retry.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	// Set default headers
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	// Set API key if configured
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	endpoint := path.Base(req.URL.Path)

	var resp *http.Response
	err := c.retry.Do(req.Context(), func(ctx context.Context) error {
		// Wait for rate limiter
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		// Reset body if possible for retry
		if err := c.resetRequestBody(req); err != nil {
			return fmt.Errorf("cannot retry request: %w", err)
		}

		start := time.Now()
		r, err := c.client.Do(req)
		duration := time.Since(start).Seconds()

		if err != nil {
			// A dead parent context is a caller cancellation, not a
			// transient failure.
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return ctxErr
			}
			c.recordFailure(endpoint, "transport")
			return fmt.Errorf("request failed: %w", err)
		}

		if r.StatusCode == http.StatusTooManyRequests {
			retryAfter := c.retryAfter(r)
			c.drainAndClose(r)
			c.recordFailure(endpoint, "rate_limited")
			if c.config.Metrics != nil {
				c.config.Metrics.RecordSourceRateLimited(c.config.Source)
			}
			return domain.NewRateLimitError(c.config.Source, retryAfter)
		}

		if RetryableStatus(r.StatusCode) {
			c.drainAndClose(r)
			c.recordFailure(endpoint, "status_"+strconv.Itoa(r.StatusCode))
			return domain.NewExternalAPIError(c.config.Source, r.StatusCode,
				fmt.Sprintf("server returned status %d", r.StatusCode), nil)
		}

		if c.config.Metrics != nil {
			c.config.Metrics.RecordSourceRequest(c.config.Source, endpoint, duration)
		}

		// Success or non-retryable status; the caller inspects the code.
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("unexpected error: no response received")
	}
	return resp, nil
}

// retryAfter parses the Retry-After header of a 429 response.
// Returns zero when absent or unparseable, letting the schedule decide.
func (c *HTTPClient) retryAfter(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	// Try to parse as seconds
	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}

	// Try to parse as HTTP date
	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return 0
}

// drainAndClose discards the response body to free the connection before a retry.
func (c *HTTPClient) drainAndClose(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func (c *HTTPClient) recordFailure(endpoint, errorType string) {
	if c.config.Metrics != nil {
		c.config.Metrics.RecordSourceRequestFailed(c.config.Source, endpoint, errorType)
	}
}

// resetRequestBody resets the request body for retry if possible.
func (c *HTTPClient) resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}
