package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/harunnryd/voicedesk/pkg/resilience"
)

// RetryConfig bounds how long a caller waits on a flaky model. Delays are
// short: the caller is on the line.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to this fraction of the delay at random.
	Jitter      float64
	IsRetryable func(error) bool
	// Sleep replaces the backoff wait in tests.
	Sleep func(time.Duration)
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Second
	}
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
	return c
}

// delay is the wait after the given zero-based failed attempt: BaseDelay
// doubled per attempt, capped at MaxDelay, plus jitter.
func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < attempt && d < c.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, c.MaxDelay)
	if c.Jitter > 0 {
		d += time.Duration(float64(d) * c.Jitter * rand.Float64())
	}
	return d
}

// Retry calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx ends. A hangup cancels ctx and cuts the backoff short.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) (Response, error)) (Response, error) {
	cfg = cfg.normalized()
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !cfg.IsRetryable(err) || attempt == cfg.MaxAttempts-1 {
			break
		}
		if !cfg.wait(ctx, cfg.delay(attempt)) {
			return Response{}, fmt.Errorf("llm retry abandoned: %w", lastErr)
		}
	}
	return Response{}, fmt.Errorf("llm retry failed: %w", lastErr)
}

func (c RetryConfig) wait(ctx context.Context, d time.Duration) bool {
	if c.Sleep != nil {
		c.Sleep(d)
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// DefaultIsRetryable retries everything except cancellation and rate limits;
// rate limits feed the circuit breaker instead.
func DefaultIsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return !resilience.IsRateLimit(err)
	}
}
