package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/provider"
)

func noJitter() float64 { return 0 }

func recordSleeps(slept *[]time.Duration) Option {
	return withSleep(func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	})
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	out, err := Do(context.Background(), DefaultConfig(), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientWithExponentialBackoff(t *testing.T) {
	var slept []time.Duration
	cfg := Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2, JitterMax: time.Second}

	calls := 0
	out, err := Do(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		if calls < 4 {
			return 0, provider.NewTransient("gemini", "flaky", nil)
		}
		return 7, nil
	}, WithRand(noJitter), recordSleeps(&slept))

	require.NoError(t, err)
	assert.Equal(t, 7, out)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, slept)
}

func TestDo_FatalErrorStopsImmediately(t *testing.T) {
	calls := 0
	fatal := provider.NewFatal("gemini", "bad key", nil)
	_, err := Do(context.Background(), DefaultConfig(), func(context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var slept []time.Duration
	cfg := Config{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2}

	calls := 0
	boom := provider.NewTransient("gemini", "still down", nil)
	_, err := Do(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, boom
	}, WithRand(noJitter), recordSleeps(&slept))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Len(t, slept, 2)
}

func TestDo_RateLimitUsesRetryAfter(t *testing.T) {
	var slept []time.Duration
	cfg := Config{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2}

	calls := 0
	_, err := Do(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, provider.NewRateLimit("gemini", "slow down", 30*time.Second)
		}
		return 1, nil
	}, WithRand(noJitter), recordSleeps(&slept))

	require.NoError(t, err)
	require.Len(t, slept, 1)
	assert.Equal(t, 30*time.Second, slept[0])
}

func TestDo_BackoffCappedAtMaxDelay(t *testing.T) {
	cfg := Config{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second, ExponentialBase: 2}
	assert.Equal(t, 4*time.Second, cfg.Delay(2, 0, noJitter))
	assert.Equal(t, 5*time.Second, cfg.Delay(3, 0, noJitter))
	assert.Equal(t, 5*time.Second, cfg.Delay(8, 0, noJitter))
}

func TestDelay_JitterAdds(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2, JitterMax: time.Second}
	d := cfg.Delay(0, 0, func() float64 { return 0.5 })
	assert.Equal(t, 1500*time.Millisecond, d)
}

func TestDo_OnRetryAborts(t *testing.T) {
	abort := fmt.Errorf("job cancelled")
	calls := 0
	_, err := Do(context.Background(), DefaultConfig(), func(context.Context) (int, error) {
		calls++
		return 0, provider.NewTransient("gemini", "flaky", nil)
	}, WithRand(noJitter), WithOnRetry(func(int, error, time.Duration) error {
		return abort
	}))

	assert.ErrorIs(t, err, abort)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Do(ctx, DefaultConfig(), func(context.Context) (int, error) {
		cancel()
		return 0, provider.NewTransient("gemini", "flaky", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(&conf.RetrySettings{
		MaxRetries: 4, BaseDelay: 0.5, MaxDelay: 30, ExponentialBase: 3, JitterMax: 2,
	})
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 3.0, cfg.ExponentialBase)
	assert.Equal(t, 2*time.Second, cfg.JitterMax)
}
