package resilience

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Total attempts including the first one
	InitialBackoff    time.Duration // Initial backoff duration
	MaxBackoff        time.Duration // Maximum backoff duration
	BackoffMultiplier float64       // Multiplier for exponential backoff
	Jitter            bool          // Randomize each interval by up to 25%
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableError checks if an error is retryable
type IsRetryableError func(error) bool

// NewBackOff builds the exponential policy described by the config, capped
// at MaxAttempts and bound to ctx
func (c *RetryConfig) NewBackOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.InitialBackoff
	eb.MaxInterval = c.MaxBackoff
	eb.Multiplier = c.BackoffMultiplier
	eb.MaxElapsedTime = 0
	if !c.Jitter {
		eb.RandomizationFactor = 0
	} else {
		eb.RandomizationFactor = 0.25
	}
	eb.Reset()

	retries := c.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// Retry executes fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted or ctx is done. The last error is returned.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(op, config.NewBackOff(ctx))
}

// RetryNotify is Retry with a hook called before each wait
func RetryNotify(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError, notify func(err error, wait time.Duration)) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	op := func() error {
		err := fn(ctx)
		if err != nil && (ctx.Err() != nil || (isRetryable != nil && !isRetryable(err))) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, config.NewBackOff(ctx), notify)
}

var transientMarkers = []string{
	// Connection errors
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"eof",
	"network is unreachable",
	"no route to host",
	"unavailable",
	// Timeouts
	"deadline exceeded",
	"timeout",
	// Rate limiting and provider overload
	"rate limit",
	"too many requests",
	"429",
	"500 internal server error",
	"502",
	"503",
	"504",
	"overloaded",
}

// IsRetryableNetworkError checks if an error looks transient
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
