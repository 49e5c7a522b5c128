package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"InsightRelay/internal/biz"
	ilog "InsightRelay/pkg/log"
	"InsightRelay/pkg/providers"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-playground/validator/v10"
)

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	Request    GenerationInput `json:"request" validate:"required"`
	Candidates []Candidate     `json:"candidates,omitempty" validate:"omitempty,max=16,dive"`
	Tier       string          `json:"tier,omitempty" validate:"omitempty,max=64"`
}

// GenerationInput carries the provider-independent generation parameters.
type GenerationInput struct {
	Kind         string            `json:"kind,omitempty" validate:"omitempty,oneof=text image"`
	SystemPrompt string            `json:"system_prompt,omitempty" validate:"max=100000"`
	Prompt       string            `json:"prompt" validate:"required,max=400000"`
	Temperature  *float64          `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens    int               `json:"max_tokens,omitempty" validate:"gte=0,lte=200000"`
	Seed         *int64            `json:"seed,omitempty"`
	ImageSize    string            `json:"image_size,omitempty" validate:"omitempty,max=32"`
	APIKeys      map[string]string `json:"api_keys,omitempty" validate:"omitempty,dive,keys,oneof=openai anthropic gemini,endkeys,required"`
	Metadata     map[string]string `json:"metadata,omitempty" validate:"omitempty,max=32"`
}

// Candidate is one (provider, model) entry of a fallback chain.
type Candidate struct {
	Provider string `json:"provider" validate:"required,max=64"`
	Model    string `json:"model" validate:"required,max=128"`
	Order    int    `json:"order"`
}

// GenerateReply is the successful result of a generation.
type GenerateReply struct {
	ID           string `json:"id"`
	Payload      string `json:"payload"`
	ProviderUsed string `json:"provider_used"`
	ModelUsed    string `json:"model_used"`
	LatencyMs    int64  `json:"latency_ms"`
	AttemptCount int    `json:"attempt_count"`
	Seed         *int64 `json:"seed,omitempty"`
	Cached       bool   `json:"cached"`
}

// Breaker is the externally visible state of one provider breaker.
type Breaker struct {
	Provider            string     `json:"provider"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	HalfOpenSuccesses   int        `json:"half_open_successes"`
}

// ListBreakersReply lists breaker states.
type ListBreakersReply struct {
	Breakers []Breaker `json:"breakers"`
}

// ResetBreakerRequest selects the breaker to reset.
type ResetBreakerRequest struct {
	Provider string `json:"provider" validate:"required"`
}

// ResetBreakerReply reports the breaker state after a reset.
type ResetBreakerReply struct {
	Breaker Breaker `json:"breaker"`
}

// Tier describes one rate-limit tier.
type Tier struct {
	Name              string `json:"name"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	MinDelayMs        int64  `json:"min_delay_ms"`
	MaxParallel       int    `json:"max_parallel"`
	PacingMs          int64  `json:"pacing_ms"`
	Default           bool   `json:"default"`
}

// ListTiersReply lists the configured tiers.
type ListTiersReply struct {
	Tiers []Tier `json:"tiers"`
}

// GenerationService exposes the orchestrator and its resilience state.
type GenerationService struct {
	orchestrator *biz.FallbackOrchestrator
	breakers     *biz.BreakerRegistry
	limiter      *biz.RateLimiter
	repo         biz.ProviderRepo
	validate     *validator.Validate
	logger       *ilog.LogHelper
}

// NewGenerationService creates a GenerationService.
func NewGenerationService(
	orchestrator *biz.FallbackOrchestrator,
	breakers *biz.BreakerRegistry,
	limiter *biz.RateLimiter,
	repo biz.ProviderRepo,
	logger log.Logger,
) *GenerationService {
	return &GenerationService{
		orchestrator: orchestrator,
		breakers:     breakers,
		limiter:      limiter,
		repo:         repo,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       ilog.NewLogHelper(logger),
	}
}

// Generate runs one orchestrated generation.
func (s *GenerationService) Generate(ctx context.Context, req *GenerateRequest) (*GenerateReply, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, invalidRequest(err)
	}

	in := req.Request
	genReq := &biz.GenerationRequest{
		Kind:         providers.Kind(strings.ToLower(in.Kind)),
		SystemPrompt: in.SystemPrompt,
		Prompt:       in.Prompt,
		Temperature:  in.Temperature,
		MaxTokens:    in.MaxTokens,
		Seed:         in.Seed,
		ImageSize:    in.ImageSize,
		APIKeys:      in.APIKeys,
		Metadata:     in.Metadata,
	}

	candidates := make([]biz.CandidateDescriptor, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		candidates = append(candidates, biz.CandidateDescriptor{
			Provider: strings.ToLower(c.Provider),
			Model:    c.Model,
			Order:    c.Order,
		})
	}

	result, err := s.orchestrator.Generate(ctx, genReq, candidates, req.Tier)
	if err != nil {
		return nil, toAPIError(err)
	}

	return &GenerateReply{
		ID:           result.ID,
		Payload:      result.Payload,
		ProviderUsed: result.ProviderUsed,
		ModelUsed:    result.ModelUsed,
		LatencyMs:    result.LatencyMs,
		AttemptCount: result.AttemptCount,
		Seed:         result.Seed,
		Cached:       result.Cached,
	}, nil
}

// ListBreakers returns every configured provider's breaker, closed if never used.
func (s *GenerationService) ListBreakers(ctx context.Context) (*ListBreakersReply, error) {
	known := make(map[string]biz.CircuitBreakerState)
	for _, snap := range s.breakers.Snapshots() {
		known[snap.Provider] = snap
	}
	for _, name := range s.repo.Names() {
		if _, ok := known[name]; !ok {
			known[name] = biz.CircuitBreakerState{Provider: name, State: biz.BreakerClosed}
		}
	}

	reply := &ListBreakersReply{Breakers: make([]Breaker, 0, len(known))}
	for _, snap := range known {
		reply.Breakers = append(reply.Breakers, toBreaker(snap))
	}
	sort.Slice(reply.Breakers, func(i, j int) bool { return reply.Breakers[i].Provider < reply.Breakers[j].Provider })
	return reply, nil
}

// ResetBreaker closes a provider's breaker.
func (s *GenerationService) ResetBreaker(ctx context.Context, req *ResetBreakerRequest) (*ResetBreakerReply, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, invalidRequest(err)
	}
	provider := strings.ToLower(req.Provider)

	if !s.breakers.Reset(provider) {
		if _, ok := s.repo.Client(provider); !ok {
			return nil, breakerNotFound(provider)
		}
	}
	s.logger.Audit("breaker reset requested",
		"request_id", ilog.GetRequestID(ctx),
		"provider", provider)

	return &ResetBreakerReply{Breaker: toBreaker(s.breakers.Get(provider).Snapshot())}, nil
}

// ListTiers returns the configured rate-limit tiers, slowest first.
func (s *GenerationService) ListTiers(ctx context.Context) (*ListTiersReply, error) {
	defaultTier := s.limiter.DefaultTier()
	tiers := s.limiter.Tiers()
	reply := &ListTiersReply{Tiers: make([]Tier, 0, len(tiers))}
	for _, t := range tiers {
		reply.Tiers = append(reply.Tiers, Tier{
			Name:              t.Name,
			RequestsPerMinute: t.RequestsPerMinute,
			MinDelayMs:        t.MinDelay.Milliseconds(),
			MaxParallel:       t.MaxParallel,
			PacingMs:          t.Pacing().Milliseconds(),
			Default:           t.Name == defaultTier,
		})
	}
	return reply, nil
}

func toBreaker(snap biz.CircuitBreakerState) Breaker {
	b := Breaker{
		Provider:            snap.Provider,
		State:               snap.State.String(),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		HalfOpenSuccesses:   snap.HalfOpenSuccesses,
	}
	if !snap.LastFailureAt.IsZero() {
		at := snap.LastFailureAt
		b.LastFailureAt = &at
	}
	return b
}

// GetTier returns the requested tier; the request logger reads it.
func (r *GenerateRequest) GetTier() string {
	if r == nil {
		return ""
	}
	return r.Tier
}
