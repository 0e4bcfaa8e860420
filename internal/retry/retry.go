// Package retry runs provider calls with exponential backoff, jitter, and
// rate-limiter arbitration. Cancellation is polled through the OnRetry
// callback between attempts.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/errors"
	"github.com/hyescribe/hyescribe/internal/provider"
	"github.com/hyescribe/hyescribe/internal/ratelimit"
)

// Config is the backoff policy.
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	JitterMax       time.Duration
}

// DefaultConfig matches the configuration defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      5,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		JitterMax:       time.Second,
	}
}

// FromSettings converts the configured retry policy.
func FromSettings(s *conf.RetrySettings) Config {
	return Config{
		MaxRetries:      s.MaxRetries,
		BaseDelay:       time.Duration(s.BaseDelay * float64(time.Second)),
		MaxDelay:        time.Duration(s.MaxDelay * float64(time.Second)),
		ExponentialBase: s.ExponentialBase,
		JitterMax:       time.Duration(s.JitterMax * float64(time.Second)),
	}
}

// OnRetry is invoked before each backoff sleep. Returning a non-nil error
// aborts the loop with that error; the worker uses this to surface
// cancellation between attempts.
type OnRetry func(attempt int, err error, delay time.Duration) error

type options struct {
	limiter      *ratelimit.Limiter
	providerName string
	onRetry      OnRetry
	randFloat    func() float64
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option customizes one Do invocation.
type Option func(*options)

// WithLimiter gates every attempt on the provider's token bucket and
// reports outcomes back to it.
func WithLimiter(limiter *ratelimit.Limiter, providerName string) Option {
	return func(o *options) {
		o.limiter = limiter
		o.providerName = providerName
	}
}

// WithOnRetry installs the between-attempts callback.
func WithOnRetry(cb OnRetry) Option {
	return func(o *options) { o.onRetry = cb }
}

// WithRand injects the jitter source (tests).
func WithRand(f func() float64) Option {
	return func(o *options) { o.randFloat = f }
}

// withSleep injects the sleeper (tests).
func withSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = f }
}

// Delay computes the backoff before attempt+1. When the vendor supplied a
// retry-after it takes precedence over the exponential formula; jitter is
// added either way to de-synchronize concurrent workers.
func (c *Config) Delay(attempt int, retryAfter time.Duration, randFloat func() float64) time.Duration {
	jitter := time.Duration(randFloat() * float64(c.JitterMax))
	if retryAfter > 0 {
		return retryAfter + jitter
	}
	backoff := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(attempt))
	if backoff > float64(c.MaxDelay) {
		backoff = float64(c.MaxDelay)
	}
	return time.Duration(backoff) + jitter
}

// Do runs fn up to cfg.MaxRetries+1 times.
//   - RateLimitError: reported to the limiter, retried after retry-after.
//   - provider.Error with Retryable=false: propagated immediately.
//   - anything else: treated as transient and retried.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T

	o := options{
		randFloat: rand.Float64,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if o.limiter != nil {
			if err := o.limiter.Acquire(ctx, o.providerName); err != nil {
				return zero, err
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if o.limiter != nil {
				o.limiter.ReportSuccess(o.providerName)
			}
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		var retryAfter time.Duration
		var rl *provider.RateLimitError
		switch {
		case errors.As(err, &rl):
			retryAfter = rl.RetryAfter
			if o.limiter != nil {
				// The backoff below covers the vendor's retry-after, so the
				// limiter only adjusts its adaptive factor here.
				_ = o.limiter.ReportRateLimit(ctx, o.providerName, 0)
			}
		case !provider.IsRetryable(err):
			return zero, err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.Delay(attempt, retryAfter, o.randFloat)
		if o.onRetry != nil {
			if abortErr := o.onRetry(attempt, err, delay); abortErr != nil {
				return zero, abortErr
			}
		}
		if err := o.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
