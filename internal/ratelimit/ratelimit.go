// Package ratelimit implements a per-provider token bucket whose refill
// rate adapts to observed 429 responses. One token per provider call.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hyescribe/hyescribe/internal/logging"
	"github.com/hyescribe/hyescribe/internal/observability/metrics"
)

const (
	// Bounds for the adaptive factor applied to the refill rate.
	minAdaptiveFactor = 0.1
	maxAdaptiveFactor = 1.0

	backoffMultiplier  = 0.5
	recoveryMultiplier = 1.1
)

// bucket is the token-bucket state for one provider.
type bucket struct {
	mu             sync.Mutex
	tokens         float64
	lastUpdate     time.Time
	maxTokens      float64
	refillRate     float64 // tokens per second at factor 1.0
	adaptiveFactor float64
}

// Limiter arbitrates request pacing across all providers in this process.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	logger  *slog.Logger
	metrics *metrics.ProviderMetrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an empty limiter; call Configure per provider.
func New() *Limiter {
	logger := logging.ForService("ratelimit")
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
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

// SetMetrics attaches the provider metric collectors. May stay unset.
func (l *Limiter) SetMetrics(m *metrics.ProviderMetrics) {
	l.metrics = m
}

// Configure registers a provider with its requests-per-minute budget.
// Burst is rpm/6 (at least 1); refill is rpm/60 tokens per second.
func (l *Limiter) Configure(provider string, rpm int) {
	if rpm <= 0 {
		rpm = 1
	}
	burst := rpm / 6
	if burst < 1 {
		burst = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[provider] = &bucket{
		tokens:         float64(burst),
		lastUpdate:     l.now(),
		maxTokens:      float64(burst),
		refillRate:     float64(rpm) / 60.0,
		adaptiveFactor: maxAdaptiveFactor,
	}
}

func (l *Limiter) get(provider string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[provider]
	if !ok {
		// Unknown providers get a conservative 30 rpm bucket.
		b = &bucket{
			tokens:         5,
			lastUpdate:     l.now(),
			maxTokens:      5,
			refillRate:     0.5,
			adaptiveFactor: maxAdaptiveFactor,
		}
		l.buckets[provider] = b
	}
	return b
}

// refillLocked advances the bucket to now. Caller holds b.mu.
func (l *Limiter) refillLocked(b *bucket) {
	now := l.now()
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.maxTokens, b.tokens+elapsed*b.refillRate*b.adaptiveFactor)
		b.lastUpdate = now
	}
}

// Acquire consumes one token, sleeping until one accrues if the bucket is
// empty. Returns early with the context error on cancellation.
func (l *Limiter) Acquire(ctx context.Context, provider string) error {
	b := l.get(provider)

	b.mu.Lock()
	l.refillLocked(b)
	if b.tokens >= 1 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}

	needed := 1 - b.tokens
	rate := b.refillRate * b.adaptiveFactor
	wait := time.Duration(needed / rate * float64(time.Second))
	b.mu.Unlock()

	l.logger.Debug("rate limit wait", "provider", provider, "wait", wait.Round(time.Millisecond))
	if err := l.sleep(ctx, wait); err != nil {
		return err
	}
	if l.metrics != nil {
		l.metrics.RecordTokenWait(provider, wait.Seconds())
	}

	b.mu.Lock()
	// The wait covered exactly the deficit; drain the bucket.
	b.tokens = 0
	b.lastUpdate = l.now()
	b.mu.Unlock()
	return nil
}

// TryAcquire consumes a token without blocking. Returns false when empty.
func (l *Limiter) TryAcquire(provider string) bool {
	b := l.get(provider)
	b.mu.Lock()
	defer b.mu.Unlock()
	l.refillLocked(b)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// ReportRateLimit records a 429 from the provider: halve the adaptive
// factor (floor 0.1), drain the bucket, and optionally sit out the
// vendor-requested retry-after.
func (l *Limiter) ReportRateLimit(ctx context.Context, provider string, retryAfter time.Duration) error {
	b := l.get(provider)

	b.mu.Lock()
	b.adaptiveFactor = max(minAdaptiveFactor, b.adaptiveFactor*backoffMultiplier)
	b.tokens = 0
	b.lastUpdate = l.now()
	factor := b.adaptiveFactor
	b.mu.Unlock()

	l.logger.Warn("provider rate limited, throttling",
		"provider", provider, "adaptive_factor", factor, "retry_after", retryAfter)
	if l.metrics != nil {
		l.metrics.RecordRateLimitHit(provider)
		l.metrics.SetLimiterAlpha(provider, factor)
	}

	if retryAfter > 0 {
		return l.sleep(ctx, retryAfter)
	}
	return nil
}

// ReportSuccess nudges the adaptive factor back toward 1.0.
func (l *Limiter) ReportSuccess(provider string) {
	b := l.get(provider)
	b.mu.Lock()
	if b.adaptiveFactor < maxAdaptiveFactor {
		b.adaptiveFactor = min(maxAdaptiveFactor, b.adaptiveFactor*recoveryMultiplier)
	}
	factor := b.adaptiveFactor
	b.mu.Unlock()

	if l.metrics != nil {
		l.metrics.SetLimiterAlpha(provider, factor)
	}
}

// Status is a snapshot of one provider's bucket for diagnostics.
type Status struct {
	Provider        string  `json:"provider"`
	AvailableTokens float64 `json:"available_tokens"`
	MaxTokens       float64 `json:"max_tokens"`
	RefillRate      float64 `json:"refill_rate"`
	AdaptiveFactor  float64 `json:"adaptive_factor"`
}

// GetStatus reports the current state of every configured bucket.
func (l *Limiter) GetStatus() []Status {
	l.mu.Lock()
	providers := make([]string, 0, len(l.buckets))
	for name := range l.buckets {
		providers = append(providers, name)
	}
	l.mu.Unlock()

	statuses := make([]Status, 0, len(providers))
	for _, name := range providers {
		b := l.get(name)
		b.mu.Lock()
		l.refillLocked(b)
		statuses = append(statuses, Status{
			Provider:        name,
			AvailableTokens: b.tokens,
			MaxTokens:       b.maxTokens,
			RefillRate:      b.refillRate,
			AdaptiveFactor:  b.adaptiveFactor,
		})
		b.mu.Unlock()
	}
	return statuses
}
