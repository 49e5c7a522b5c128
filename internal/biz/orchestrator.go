package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"InsightRelay/internal/conf"
	ilog "InsightRelay/pkg/log"
	"InsightRelay/pkg/metrics"
	"InsightRelay/pkg/providers"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
)

// Fallback outcomes reported to metrics.
const (
	outcomeCached    = "cached"
	outcomePrimary   = "primary"
	outcomeFallback  = "fallback"
	outcomeExhausted = "exhausted"
)

// OrchestratorConfig configures the FallbackOrchestrator.
type OrchestratorConfig struct {
	// Chains are the default candidates per kind, used when a request names none.
	Chains map[providers.Kind][]CandidateDescriptor
	// SingleFlight collapses concurrent identical requests into one provider run.
	SingleFlight bool
}

// NewOrchestratorConfig builds an OrchestratorConfig from configuration.
func NewOrchestratorConfig(c *conf.Resilience) OrchestratorConfig {
	cfg := OrchestratorConfig{Chains: make(map[providers.Kind][]CandidateDescriptor)}
	if c == nil {
		return cfg
	}
	if c.Cache != nil {
		cfg.SingleFlight = c.Cache.SingleFlight
	}
	if c.Fallback != nil {
		for kind, chain := range c.Fallback.Chains {
			candidates := make([]CandidateDescriptor, 0, len(chain))
			for _, cand := range chain {
				if cand == nil {
					continue
				}
				candidates = append(candidates, CandidateDescriptor{Provider: cand.Provider, Model: cand.Model, Order: cand.Order})
			}
			cfg.Chains[providers.Kind(strings.ToLower(kind))] = candidates
		}
	}
	return cfg
}

// candidateCaller is the slice of ProviderAdapter the orchestrator depends on.
type candidateCaller interface {
	Call(ctx context.Context, req *GenerationRequest, candidate CandidateDescriptor, tier string) (GenerationResult, error)
	Tier(tier string) (TierConfig, bool)
}

// FallbackOrchestrator serves generation requests from the result cache or
// by trying candidates in order until one succeeds.
type FallbackOrchestrator struct {
	adapter candidateCaller
	cache   *ResultCache
	cfg     OrchestratorConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *ilog.LogHelper
}

// NewFallbackOrchestrator creates a FallbackOrchestrator.
func NewFallbackOrchestrator(adapter *ProviderAdapter, cache *ResultCache, cfg OrchestratorConfig, m *metrics.Metrics, logger log.Logger) *FallbackOrchestrator {
	return newFallbackOrchestrator(adapter, cache, cfg, m, logger)
}

func newFallbackOrchestrator(adapter candidateCaller, cache *ResultCache, cfg OrchestratorConfig, m *metrics.Metrics, logger log.Logger) *FallbackOrchestrator {
	if cfg.Chains == nil {
		cfg.Chains = make(map[providers.Kind][]CandidateDescriptor)
	}
	return &FallbackOrchestrator{
		adapter: adapter,
		cache:   cache,
		cfg:     cfg,
		metrics: m,
		logger:  ilog.NewLogHelper(logger),
	}
}

// Chain returns the configured default candidates for kind.
func (o *FallbackOrchestrator) Chain(kind providers.Kind) []CandidateDescriptor {
	if kind == "" {
		kind = providers.KindText
	}
	return append([]CandidateDescriptor(nil), o.cfg.Chains[kind]...)
}

// Generate returns a cached result for an identical request, or tries the
// candidates ordered by Order (ties keep input order) until one succeeds.
// When every candidate fails it returns *ExhaustedFallbackError with one entry
// per candidate in that order; an open breaker is recorded as *CircuitOpenError.
// An empty candidate list selects the configured chain for the request kind.
func (o *FallbackOrchestrator) Generate(ctx context.Context, req *GenerationRequest, candidates []CandidateDescriptor, tier string) (GenerationResult, error) {
	if err := validateRequest(req); err != nil {
		return GenerationResult{}, err
	}
	if _, ok := o.adapter.Tier(tier); !ok {
		return GenerationResult{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if len(candidates) == 0 {
		candidates = o.Chain(req.Kind)
	}
	if len(candidates) == 0 {
		return GenerationResult{}, ErrNoCandidates
	}

	kind := string(req.Kind)
	if kind == "" {
		kind = string(providers.KindText)
	}

	fp := Fingerprint(req, candidates)
	if result, ok := o.cache.Get(fp); ok {
		result.AttemptCount = 0
		result.Cached = true
		o.metrics.RecordFallback(kind, outcomeCached)
		o.logger.Cache("result served from cache",
			"request_id", ilog.GetRequestID(ctx),
			"fingerprint", fp,
			"provider", result.ProviderUsed,
			"model", result.ModelUsed)
		return result, nil
	}

	if !o.cfg.SingleFlight {
		return o.run(ctx, req, fp, candidates, tier)
	}

	return o.runShared(ctx, req, fp, candidates, tier)
}

// runShared joins or leads the in-flight run for fp. The run uses the
// leader's context; when it ends with a context error while this caller's
// context is still live, the caller starts or joins a new run.
func (o *FallbackOrchestrator) runShared(ctx context.Context, req *GenerationRequest, fp string, candidates []CandidateDescriptor, tier string) (GenerationResult, error) {
	for {
		ch := o.group.DoChan(fp, func() (interface{}, error) {
			return o.run(ctx, req, fp, candidates, tier)
		})
		select {
		case <-ctx.Done():
			return GenerationResult{}, ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(GenerationResult), nil
			}
			if ctx.Err() == nil && isContextError(res.Err) {
				o.logger.Fallback("shared run ended by another caller's context, retrying",
					"request_id", ilog.GetRequestID(ctx),
					"fingerprint", fp)
				continue
			}
			return GenerationResult{}, res.Err
		}
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// run tries candidates in order.
func (o *FallbackOrchestrator) run(ctx context.Context, req *GenerationRequest, fp string, candidates []CandidateDescriptor, tier string) (GenerationResult, error) {
	kind := string(req.Kind)
	if kind == "" {
		kind = string(providers.KindText)
	}
	requestID := ilog.GetRequestID(ctx)
	ordered := orderCandidates(candidates)
	failures := make([]CandidateError, 0, len(ordered))

	for i, cand := range ordered {
		if err := ctx.Err(); err != nil {
			return GenerationResult{}, err
		}

		result, err := o.adapter.Call(ctx, req, cand, tier)
		if err == nil {
			o.cache.Put(fp, result, o.cache.TTL())
			outcome := outcomePrimary
			if i > 0 {
				outcome = outcomeFallback
				o.logger.Fallback("served by fallback candidate",
					"request_id", requestID,
					"provider", cand.Provider,
					"model", cand.Model,
					"position", i+1,
					"skipped", len(failures))
			}
			o.metrics.RecordFallback(kind, outcome)
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return GenerationResult{}, ctxErr
		}

		failures = append(failures, CandidateError{Candidate: cand, Err: err})
		o.logger.Fallback("candidate failed, trying next",
			"request_id", requestID,
			"provider", cand.Provider,
			"model", cand.Model,
			"position", i+1,
			"remaining", len(ordered)-i-1,
			"error_kind", ErrorKind(err))
	}

	o.metrics.RecordFallback(kind, outcomeExhausted)
	exhausted := &ExhaustedFallbackError{Errors: failures}
	o.logger.Errorw(
		"msg", "all fallback candidates failed",
		"request_id", requestID,
		"candidates", len(failures),
		"metadata", req.Metadata,
		"error", exhausted)
	return GenerationResult{}, exhausted
}

// orderCandidates sorts by Order, keeping input order for ties.
func orderCandidates(candidates []CandidateDescriptor) []CandidateDescriptor {
	ordered := append([]CandidateDescriptor(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	return ordered
}

func validateRequest(req *GenerationRequest) error {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return ErrEmptyPrompt
	}
	switch req.Kind {
	case "", providers.KindText, providers.KindImage:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}
}
