package biz

import (
	"sort"
	"sync"
	"time"

	"InsightRelay/internal/conf"
	"InsightRelay/internal/model"
	ilog "InsightRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// BreakerState is the state of a provider circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets all calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets one trial call through at a time; one failure re-opens.
	BreakerHalfOpen
)

// String returns the state name used in logs and the admin API.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// halfOpenSuccessesToClose is the number of consecutive half-open successes that close a breaker.
const halfOpenSuccessesToClose = 2

// BreakerConfig configures every breaker in a registry.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultBreakerConfig returns threshold 5 and a 60s reset timeout.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: 60 * time.Second}
}

// NewBreakerConfig builds a BreakerConfig from configuration, falling back to defaults.
func NewBreakerConfig(c *conf.Resilience) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if c == nil || c.Breaker == nil {
		return cfg
	}
	if c.Breaker.FailureThreshold > 0 {
		cfg.FailureThreshold = c.Breaker.FailureThreshold
	}
	if c.Breaker.ResetTimeout > 0 {
		cfg.ResetTimeout = c.Breaker.ResetTimeout
	}
	return cfg
}

// CircuitBreakerState is a point-in-time copy of a breaker.
type CircuitBreakerState struct {
	Provider            string
	State               BreakerState
	ConsecutiveFailures int
	LastFailureAt       time.Time
	HalfOpenSuccesses   int
}

// CircuitBreaker tracks the health of one provider.
// It is safe for concurrent use.
type CircuitBreaker struct {
	cfg      BreakerConfig
	observer BreakerObserver
	now      func() time.Time

	mu    sync.Mutex
	state CircuitBreakerState
	// brokenAt is when the current outage started; zero while closed.
	brokenAt time.Time
	probes   int
	// trialAt is when the in-flight half-open trial was granted; zero when none is in flight.
	trialAt time.Time
}

// NewCircuitBreaker creates a closed breaker for provider.
func NewCircuitBreaker(provider string, cfg BreakerConfig, observer BreakerObserver) *CircuitBreaker {
	if observer == nil {
		observer = noopBreakerObserver{}
	}
	return &CircuitBreaker{
		cfg:      cfg,
		observer: observer,
		now:      time.Now,
		state:    CircuitBreakerState{Provider: provider, State: BreakerClosed},
	}
}

// IsOpen reports whether calls must be rejected.
// An open breaker whose reset timeout has elapsed since the last failure
// moves to half-open and reports false, granting a single trial call.
// While that trial is unrecorded further checks report true; a trial left
// unrecorded for longer than the reset timeout is considered lost.
func (cb *CircuitBreaker) IsOpen() bool {
	var notify func()

	cb.mu.Lock()
	open := false
	now := cb.now()
	switch cb.state.State {
	case BreakerOpen:
		if now.Sub(cb.state.LastFailureAt) >= cb.cfg.ResetTimeout {
			cb.state.State = BreakerHalfOpen
			cb.state.HalfOpenSuccesses = 0
			cb.trialAt = now
			event := &model.CircuitHalfOpenEvent{
				Provider:     cb.state.Provider,
				OpenDuration: now.Sub(cb.brokenAt),
				At:           now,
			}
			notify = func() { cb.observer.NotifyCircuitHalfOpen(event) }
		} else {
			open = true
		}
	case BreakerHalfOpen:
		if cb.trialAt.IsZero() || now.Sub(cb.trialAt) >= cb.cfg.ResetTimeout {
			cb.trialAt = now
		} else {
			open = true
		}
	}
	cb.mu.Unlock()

	if notify != nil {
		notify()
	}
	return open
}

// Tripped reports whether the breaker is open, without granting trials or
// moving to half-open. Retry loops use it to abandon work after the breaker opened.
func (cb *CircuitBreaker) Tripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.State == BreakerOpen
}

// ReleaseTrial gives back a half-open trial whose outcome says nothing about
// provider health, so the next IsOpen may grant another.
func (cb *CircuitBreaker) ReleaseTrial() {
	cb.mu.Lock()
	if cb.state.State == BreakerHalfOpen {
		cb.trialAt = time.Time{}
	}
	cb.mu.Unlock()
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	var notify func()

	cb.mu.Lock()
	switch cb.state.State {
	case BreakerClosed:
		cb.state.ConsecutiveFailures = 0
	case BreakerHalfOpen:
		cb.state.HalfOpenSuccesses++
		cb.probes++
		cb.trialAt = time.Time{}
		if cb.state.HalfOpenSuccesses >= halfOpenSuccessesToClose {
			event := &model.CircuitRecoveredEvent{
				Provider:    cb.state.Provider,
				ProbeCount:  cb.probes,
				RecoverTime: cb.now().Sub(cb.brokenAt),
			}
			cb.closeLocked()
			notify = func() { cb.observer.NotifyCircuitRecovered(event) }
		}
	case BreakerOpen:
		// a call dispatched before the breaker opened; the outage stands until a trial succeeds
	}
	cb.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// RecordFailure records a failed call. Failures while open extend the reset timer.
func (cb *CircuitBreaker) RecordFailure() {
	var notify func()

	cb.mu.Lock()
	now := cb.now()
	cb.state.ConsecutiveFailures++
	cb.state.LastFailureAt = now

	switch cb.state.State {
	case BreakerClosed:
		if cb.state.ConsecutiveFailures >= cb.cfg.FailureThreshold {
			cb.state.State = BreakerOpen
			cb.brokenAt = now
			cb.probes = 0
			event := &model.CircuitBrokenEvent{
				Provider:            cb.state.Provider,
				ConsecutiveFailures: cb.state.ConsecutiveFailures,
				CircuitBrokenAt:     now,
			}
			notify = func() { cb.observer.NotifyCircuitBroken(event) }
		}
	case BreakerHalfOpen:
		cb.state.State = BreakerOpen
		cb.state.HalfOpenSuccesses = 0
		cb.trialAt = time.Time{}
		cb.probes++
		event := &model.CircuitBrokenEvent{
			Provider:            cb.state.Provider,
			ConsecutiveFailures: cb.state.ConsecutiveFailures,
			CircuitBrokenAt:     now,
			FromHalfOpen:        true,
		}
		notify = func() { cb.observer.NotifyCircuitBroken(event) }
	case BreakerOpen:
	}
	cb.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Reset forces the breaker closed and zeroes its counters.
func (cb *CircuitBreaker) Reset() {
	var notify func()

	cb.mu.Lock()
	if cb.state.State != BreakerClosed {
		event := &model.CircuitRecoveredEvent{
			Provider:    cb.state.Provider,
			ProbeCount:  cb.probes,
			RecoverTime: cb.now().Sub(cb.brokenAt),
			Manual:      true,
		}
		notify = func() { cb.observer.NotifyCircuitRecovered(event) }
	}
	cb.closeLocked()
	cb.state.LastFailureAt = time.Time{}
	cb.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Snapshot returns a copy of the breaker state without triggering transitions.
func (cb *CircuitBreaker) Snapshot() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Provider returns the provider id the breaker guards.
func (cb *CircuitBreaker) Provider() string {
	return cb.state.Provider
}

func (cb *CircuitBreaker) closeLocked() {
	cb.state.State = BreakerClosed
	cb.state.ConsecutiveFailures = 0
	cb.state.HalfOpenSuccesses = 0
	cb.brokenAt = time.Time{}
	cb.probes = 0
	cb.trialAt = time.Time{}
}

// BreakerRegistry owns one CircuitBreaker per provider, created on first use.
type BreakerRegistry struct {
	cfg      BreakerConfig
	observer BreakerObserver
	now      func() time.Time
	logger   *ilog.LogHelper

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(cfg BreakerConfig, observer BreakerObserver, logger log.Logger) *BreakerRegistry {
	if observer == nil {
		observer = noopBreakerObserver{}
	}
	return &BreakerRegistry{
		cfg:      cfg,
		observer: observer,
		now:      time.Now,
		logger:   ilog.NewLogHelper(logger),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for provider, creating it if needed.
func (r *BreakerRegistry) Get(provider string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker(provider, r.cfg, r.observer)
	cb.now = r.now
	r.breakers[provider] = cb
	return cb
}

// Snapshots returns the state of every known breaker, sorted by provider.
func (r *BreakerRegistry) Snapshots() []CircuitBreakerState {
	r.mu.RLock()
	out := make([]CircuitBreakerState, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Reset closes the breaker of provider. It reports false if the provider has no breaker.
func (r *BreakerRegistry) Reset(provider string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[provider]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	before := cb.Snapshot()
	cb.Reset()
	r.logger.Breaker("circuit breaker reset",
		"provider", provider,
		"previous_state", before.State.String(),
		"consecutive_failures", before.ConsecutiveFailures)
	return true
}

// ResetAll closes every breaker.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	for _, cb := range breakers {
		cb.Reset()
	}
	r.logger.Breaker("all circuit breakers reset", "count", len(breakers))
}
