package http

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential indicates an invalid or missing token (401/403)
	ErrorTypeCredential
	// ErrorTypeNetwork indicates network/connection issues (timeouts, connection refused, etc.)
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates server errors that can be retried (500, 502, 503, throttling)
	ErrorTypeRetryable
	// ErrorTypeFatal indicates client errors that should not be retried (400, 404, invalid request)
	ErrorTypeFatal
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// ClassifyError determines the error type for retry strategy.
// Errors exposing HTTPStatus are classified by code; everything else by message.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeFatal
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch code := sc.HTTPStatus(); {
		case code == 401 || code == 403:
			return ErrorTypeCredential
		case code == 429 || code >= 500:
			return ErrorTypeRetryable
		case code >= 400:
			return ErrorTypeFatal
		}
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "invalid token") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "403") {
		return ErrorTypeCredential
	}

	if strings.Contains(errStr, "tls handshake timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "timeout") {
		return ErrorTypeNetwork
	}

	if strings.Contains(errStr, "throttl") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "service unavailable") {
		return ErrorTypeRetryable
	}

	// Unknown errors - treat as fatal to avoid infinite retries on unexpected errors
	return ErrorTypeFatal
}

// IsTransient is the default retry predicate: network and server-side failures.
func IsTransient(err error) bool {
	t := ClassifyError(err)
	return t == ErrorTypeNetwork || t == ErrorTypeRetryable
}

// Schedule returns the wait before the next attempt, given the number of
// attempts already made (1 after the first failure).
type Schedule func(attempt int) time.Duration

// Constant waits d between every attempt.
func Constant(d time.Duration) Schedule {
	return func(int) time.Duration { return d }
}

// Exponential waits initial, 2*initial, 4*initial, ... capped at max (0 = uncapped).
func Exponential(initial, max time.Duration) Schedule {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := initial * time.Duration(1<<uint(attempt-1))
		if max > 0 && (d > max || d <= 0) {
			return max
		}
		return d
	}
}

// Policy parameterizes DoValue.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first (minimum 1).
	MaxAttempts int
	// Schedule computes waits between attempts. Nil means no wait.
	Schedule Schedule
	// ShouldRetry decides whether an error is worth another attempt. Nil means IsTransient.
	ShouldRetry func(error) bool
	// OnRetry is an optional callback invoked before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
	// Sleep overrides the wait, mainly for tests. Nil means Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DoValue runs op until it succeeds, the predicate rejects the error,
// attempts run out, or ctx is cancelled. A rejected error is returned
// unchanged.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		var wait time.Duration
		if p.Schedule != nil {
			wait = p.Schedule(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
