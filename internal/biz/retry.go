package biz

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"InsightRelay/internal/conf"
	"InsightRelay/pkg/providers"
)

// RetryConfig configures the retry policy.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns 5 retries with 2s base and 65s max delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, BaseDelay: 2 * time.Second, MaxDelay: 65 * time.Second}
}

// NewRetryConfig builds a RetryConfig from configuration, falling back to defaults.
func NewRetryConfig(c *conf.Resilience) RetryConfig {
	cfg := DefaultRetryConfig()
	if c == nil || c.Retry == nil {
		return cfg
	}
	if c.Retry.MaxRetries >= 0 {
		cfg.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.BaseDelay > 0 {
		cfg.BaseDelay = c.Retry.BaseDelay
	}
	if c.Retry.MaxDelay > 0 {
		cfg.MaxDelay = c.Retry.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// Classification is the retry decision for an error.
type Classification int

const (
	// Fatal errors end the candidate immediately.
	Fatal Classification = iota
	// Transient errors are retried with backoff.
	Transient
)

// RetryState is the ephemeral state of one adapter call.
type RetryState struct {
	Attempt   int
	LastError error
	NextDelay time.Duration
}

// RetryPolicy decides whether and when to retry.
type RetryPolicy struct {
	cfg RetryConfig
	// jitter returns a uniform duration in [0, max).
	jitter func(max time.Duration) time.Duration
}

// NewRetryPolicy creates a policy with uniform random jitter.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	return &RetryPolicy{cfg: cfg, jitter: uniformJitter}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// Config returns the policy configuration.
func (p *RetryPolicy) Config() RetryConfig { return p.cfg }

// Classify returns Transient for timeouts, 429 and 5xx, and Fatal for everything else,
// including errors it does not recognise.
func (p *RetryPolicy) Classify(err error) Classification {
	if err == nil {
		return Fatal
	}
	if providers.IsTransient(err) {
		return Transient
	}
	if providers.IsFatal(err) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	return Fatal
}

// Backoff returns the delay before retry number attempt (0-based):
// min(maxDelay, base·2^attempt + jitter), jitter uniform in [0, base).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.cfg.MaxDelay
	// beyond 2^30 the product overflows long before it matters
	if attempt < 30 {
		if exp := p.cfg.BaseDelay << uint(attempt); exp > 0 && exp < p.cfg.MaxDelay {
			delay = exp
		}
	}

	delay += p.jitter(p.cfg.BaseDelay)
	if delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	return delay
}

// NextDelay returns how long to wait before retrying after err, and whether to retry at all.
// A provider supplied retry-after is honoured in place of computed backoff, capped at maxDelay.
func (p *RetryPolicy) NextDelay(state *RetryState, err error) (time.Duration, bool) {
	state.LastError = err
	if p.Classify(err) != Transient || state.Attempt >= p.cfg.MaxRetries {
		state.NextDelay = 0
		return 0, false
	}

	delay := p.Backoff(state.Attempt)
	var te *providers.TransientError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		delay = te.RetryAfter
		if delay > p.cfg.MaxDelay {
			delay = p.cfg.MaxDelay
		}
	}

	state.Attempt++
	state.NextDelay = delay
	return delay, true
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
