package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy retries post-call writes. Attempt n waits n*Backoff first.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	// OnRetry runs before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	p := RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 2
	}
	if p.Backoff <= 0 {
		p.Backoff = 200 * time.Millisecond
	}
	return p
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. DoContext returns the
// unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func (r RetryPolicy) Do(fn func() error) error {
	return r.DoContext(context.Background(), func(context.Context) error { return fn() })
}

// DoContext runs fn up to MaxRetries+1 times. It stops early on success, on
// a Permanent error, or when ctx ends, returning the last error from fn.
func (r RetryPolicy) DoContext(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt > r.MaxRetries {
			return err
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, err)
		}
		if !sleepCtx(ctx, r.Backoff*time.Duration(attempt)) {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
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
