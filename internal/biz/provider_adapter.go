package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"InsightRelay/internal/conf"
	ilog "InsightRelay/pkg/log"
	"InsightRelay/pkg/metrics"
	"InsightRelay/pkg/providers"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// DefaultCallTimeout bounds a single provider call.
const DefaultCallTimeout = 120 * time.Second

// ProviderRepo resolves provider ids to wire clients (implemented in data layer).
type ProviderRepo interface {
	// Client returns the client for provider, or false if none is configured.
	Client(provider string) (providers.Client, bool)
	// Names lists the configured provider ids.
	Names() []string
}

// AdapterConfig configures the ProviderAdapter.
type AdapterConfig struct {
	CallTimeout time.Duration
}

// NewAdapterConfig builds an AdapterConfig from configuration.
func NewAdapterConfig(c *conf.Resilience) AdapterConfig {
	cfg := AdapterConfig{CallTimeout: DefaultCallTimeout}
	if c != nil && c.CallTimeout > 0 {
		cfg.CallTimeout = c.CallTimeout
	}
	return cfg
}

// ProviderAdapter makes resilient calls to one candidate: breaker check,
// rate-limiter slot, timeout-bounded call, classification and retry.
type ProviderAdapter struct {
	repo     ProviderRepo
	breakers *BreakerRegistry
	limiter  *RateLimiter
	policy   *RetryPolicy
	cfg      AdapterConfig
	metrics  *metrics.Metrics
	logger   *ilog.LogHelper

	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewProviderAdapter creates a ProviderAdapter.
func NewProviderAdapter(
	repo ProviderRepo,
	breakers *BreakerRegistry,
	limiter *RateLimiter,
	policy *RetryPolicy,
	cfg AdapterConfig,
	m *metrics.Metrics,
	logger log.Logger,
) *ProviderAdapter {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &ProviderAdapter{
		repo:     repo,
		breakers: breakers,
		limiter:  limiter,
		policy:   policy,
		cfg:      cfg,
		metrics:  m,
		logger:   ilog.NewLogHelper(logger),
		sleep:    Sleep,
		newID:    uuid.NewString,
	}
}

// Call generates a result with one candidate. It fails with a
// *TransientProviderError after retries are exhausted, a *FatalProviderError,
// a *CircuitOpenError, or the context error when ctx is done.
//
// The provider breaker records exactly one outcome per call: a success, or
// a failure when retries are exhausted or a fatal error concerns the provider.
func (a *ProviderAdapter) Call(ctx context.Context, req *GenerationRequest, candidate CandidateDescriptor, tier string) (GenerationResult, error) {
	client, ok := a.repo.Client(candidate.Provider)
	if !ok {
		return GenerationResult{}, &FatalProviderError{
			Provider: candidate.Provider,
			Reason:   providers.ReasonUnknownProvider,
			Message:  fmt.Sprintf("provider %q is not configured", candidate.Provider),
		}
	}

	cb := a.breakers.Get(candidate.Provider)
	if cb.IsOpen() {
		a.metrics.RecordProviderCall(candidate.Provider, candidate.Model, "circuit_open", 0)
		return GenerationResult{}, &CircuitOpenError{Provider: candidate.Provider}
	}

	preq := req.providerRequest(candidate)
	state := &RetryState{}
	start := time.Now()
	requestID := ilog.GetRequestID(ctx)

	for {
		if state.Attempt > 0 && cb.Tripped() {
			a.logger.Breaker("breaker opened mid-retry, abandoning candidate",
				"request_id", requestID,
				"provider", candidate.Provider,
				"model", candidate.Model,
				"attempt", state.Attempt)
			a.metrics.RecordProviderCall(candidate.Provider, candidate.Model, "circuit_open", 0)
			return GenerationResult{}, &CircuitOpenError{Provider: candidate.Provider}
		}

		// waiting for a tier slot says nothing about the provider
		if err := a.limiter.Acquire(ctx, tier); err != nil {
			cb.ReleaseTrial()
			return GenerationResult{}, err
		}
		resp, callDur, err := a.dispatch(ctx, client, preq, tier)
		if err == nil {
			cb.RecordSuccess()
			a.metrics.RecordProviderCall(candidate.Provider, candidate.Model, "ok", callDur)

			result := GenerationResult{
				ID:           a.newID(),
				Payload:      resp.Payload,
				ProviderUsed: candidate.Provider,
				ModelUsed:    candidate.Model,
				LatencyMs:    time.Since(start).Milliseconds(),
				AttemptCount: state.Attempt + 1,
				Seed:         resp.Seed,
			}
			if result.Seed == nil {
				result.Seed = req.Seed
			}
			a.logger.Provider("provider call succeeded",
				"request_id", requestID,
				"provider", candidate.Provider,
				"model", candidate.Model,
				"model_version", resp.Model,
				"attempts", result.AttemptCount,
				"latency_ms", result.LatencyMs)
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			cb.ReleaseTrial()
			return GenerationResult{}, ctxErr
		}

		a.metrics.RecordProviderCall(candidate.Provider, candidate.Model, ErrorKind(err), callDur)

		delay, retry := a.policy.NextDelay(state, err)
		if !retry {
			a.recordTerminal(cb, err)
			a.logger.Warnw(
				"msg", "provider candidate failed",
				"request_id", requestID,
				"provider", candidate.Provider,
				"model", candidate.Model,
				"attempts", state.Attempt+1,
				"error_kind", ErrorKind(err),
				"error", err)
			return GenerationResult{}, err
		}

		a.metrics.RecordRetry(candidate.Provider)
		a.logger.Retry("transient provider error, retrying",
			"request_id", requestID,
			"provider", candidate.Provider,
			"model", candidate.Model,
			"retry", state.Attempt,
			"max_retries", a.policy.Config().MaxRetries,
			"delay_ms", delay.Milliseconds(),
			"error", err)

		if err := a.sleep(ctx, delay); err != nil {
			cb.ReleaseTrial()
			return GenerationResult{}, err
		}
	}
}

// dispatch runs one attempt in an acquired tier slot and releases it.
func (a *ProviderAdapter) dispatch(ctx context.Context, client providers.Client, req *providers.Request, tier string) (*providers.Response, time.Duration, error) {
	defer a.limiter.Release(tier)

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Generate(callCtx, req)
	if err == nil && resp == nil {
		err = &TransientProviderError{Provider: client.Name(), Message: "empty response"}
	}
	return resp, time.Since(start), err
}

// Tier reports whether tier is configured; an empty name selects the default tier.
func (a *ProviderAdapter) Tier(tier string) (TierConfig, bool) {
	return a.limiter.Tier(tier)
}

// recordTerminal records a terminal failure unless the error is about the request rather than the provider.
func (a *ProviderAdapter) recordTerminal(cb *CircuitBreaker, err error) {
	var fe *FatalProviderError
	if errors.As(err, &fe) && !fe.CountsAgainstProvider() {
		cb.ReleaseTrial()
		return
	}
	cb.RecordFailure()
}
