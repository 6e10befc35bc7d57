package papersources

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/helixir/paperfetch/internal/domain"
)

// defaultRetrySchedule is the wait gradient between attempts. The last entry
// is reused once the attempt index runs past the end.
var defaultRetrySchedule = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	45 * time.Second,
	60 * time.Second,
}

// defaultJitterFraction spreads waits by +/-10% so synchronized clients do
// not hammer a recovering API in lockstep.
const defaultJitterFraction = 0.1

// RetryPolicy retries an operation on transient failures: timeouts,
// connection errors, and HTTP 429/502/503/504 responses. Anything else
// propagates immediately. The zero value retries MaxRetries times with
// the default schedule and jitter.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts after the initial try.
	MaxRetries int

	// Schedule holds the wait durations indexed by 0-based retry attempt,
	// clamped at the last entry. Defaults to 5/15/30/45/60 seconds.
	Schedule []time.Duration

	// Jitter is the fraction of random spread applied to each wait
	// (0.1 means +/-10%). Negative disables jitter; zero uses the default.
	Jitter float64

	// OnRetry, if set, is invoked before each wait with the 1-based attempt
	// number that failed, the upcoming delay, and the error.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns a RetryPolicy with standard settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Schedule:   defaultRetrySchedule,
		Jitter:     defaultJitterFraction,
	}
}

// Do runs op, retrying on retryable errors until MaxRetries is exhausted.
// The final error is returned unwrapped so callers can inspect it.
// Waits respect context cancellation.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !IsRetryableError(lastErr) {
			return lastErr
		}

		if attempt == p.MaxRetries {
			break
		}

		delay := p.delayFor(attempt, lastErr)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, lastErr)
		}
		if err := sleepContext(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// delayFor computes the wait before the next attempt. A RateLimitError with a
// server-provided Retry-After takes precedence over the schedule.
func (p RetryPolicy) delayFor(attempt int, err error) time.Duration {
	var rlErr *domain.RateLimitError
	if errors.As(err, &rlErr) && rlErr.RetryAfter > 0 {
		return rlErr.RetryAfter
	}

	schedule := p.Schedule
	if len(schedule) == 0 {
		schedule = defaultRetrySchedule
	}
	idx := attempt
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	delay := schedule[idx]

	jitter := p.Jitter
	if jitter == 0 {
		jitter = defaultJitterFraction
	}
	if jitter > 0 {
		spread := 1 + jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * spread)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}

// RetryableStatus reports whether an HTTP status code is worth retrying.
func RetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryableError reports whether err represents a transient failure:
// a timeout, a connection failure, or a retryable HTTP status carried by a
// typed API error. Context cancellation is never retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *domain.ExternalAPIError
	if errors.As(err, &apiErr) {
		return RetryableStatus(apiErr.StatusCode)
	}

	var rlErr *domain.RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	return false
}

// sleepContext waits for the specified duration, respecting context cancellation.
func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
