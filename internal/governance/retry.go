package governance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned when every configured attempt of a
// node execution has failed. The last attempt's error is wrapped so
// callers can still match its identity.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// RetryConfig defines retry behavior for node executions.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 2 disable retries.
	MaxAttempts int
	// BaseBackoff is the delay before the first retry.
	BaseBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// Jitter adds randomness to backoff to prevent synchronized retries.
	Jitter bool
}

// DefaultRetryConfig returns the defaults applied to nodes that opt into
// retries without tuning them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Jitter:      true,
	}
}

// RetryPolicy executes node attempts with exponential backoff.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, normalizing zero values to the
// defaults.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}
	return &RetryPolicy{config: config}
}

// Config returns a copy of the current retry configuration.
func (rp *RetryPolicy) Config() RetryConfig {
	return rp.config
}

// Retryable reports whether an attempt error is worth another attempt.
// Cancellation is final: it means the run is being torn down. A deadline
// error is retryable because deadlines apply per attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Backoff returns the delay before the given retry. The first retry is
// attempt 0.
func (rp *RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := time.Duration(float64(rp.config.BaseBackoff) * math.Pow(2, float64(attempt)))
	if backoff > rp.config.MaxBackoff || backoff <= 0 {
		backoff = rp.config.MaxBackoff
	}

	if rp.config.Jitter {
		// Up to 25% extra, non-cryptographic randomness is fine here.
		// #nosec G404
		backoff += time.Duration(rand.Int63n(int64(backoff/4) + 1))
	}

	return backoff
}

// Execute runs fn until it succeeds, a non-retryable error occurs, the
// context ends, or attempts run out. It returns the number of attempts
// made. When attempts run out the last error is wrapped with
// ErrAttemptsExhausted; a single-attempt policy returns errors verbatim.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func(context.Context) error) (int, error) {
	var lastErr error

	for attempt := 0; attempt < rp.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt, lastErr
			}
			return attempt, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if !Retryable(lastErr) {
			return attempt + 1, lastErr
		}
		if attempt == rp.config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return attempt + 1, lastErr
		case <-time.After(rp.Backoff(attempt)):
		}
	}

	if rp.config.MaxAttempts > 1 {
		return rp.config.MaxAttempts, fmt.Errorf("%w: %w", ErrAttemptsExhausted, lastErr)
	}
	return 1, lastErr
}
