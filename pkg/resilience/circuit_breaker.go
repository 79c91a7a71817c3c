package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError is returned by provider adapters when the vendor throttles
// the account.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Provider != "" {
		return e.Provider + ": rate limit"
	}
	return "rate limit"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops calling a throttled vendor. After threshold
// consecutive rate limits it opens for cooldown, then lets a single probe
// through; the probe's outcome closes or reopens it. Other errors do not
// count.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	probing   bool
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a request may go out now.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case BreakerOpen:
		if c.now().Sub(c.openedAt) < c.cooldown {
			return false
		}
		c.state = BreakerHalfOpen
		c.probing = true
		return true
	case BreakerHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return true
	}
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.state = BreakerClosed
	c.failures = 0
	c.probing = false
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !IsRateLimit(err) {
		if c.state == BreakerHalfOpen {
			c.probing = false
		}
		return
	}
	c.failures++
	if c.state == BreakerHalfOpen || c.failures >= c.threshold {
		c.state = BreakerOpen
		c.openedAt = c.now()
		c.probing = false
	}
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
