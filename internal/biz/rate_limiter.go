package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"InsightRelay/internal/conf"
	ilog "InsightRelay/pkg/log"
	"InsightRelay/pkg/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// TierConfig is an immutable rate-limit/concurrency profile.
type TierConfig struct {
	Name              string
	RequestsPerMinute int
	MinDelay          time.Duration
	MaxParallel       int
}

// Pacing returns the minimum spacing between dispatches:
// the larger of MinDelay and one minute divided by RequestsPerMinute.
func (t TierConfig) Pacing() time.Duration {
	pacing := t.MinDelay
	if t.RequestsPerMinute > 0 {
		if perRequest := time.Minute / time.Duration(t.RequestsPerMinute); perRequest > pacing {
			pacing = perRequest
		}
	}
	return pacing
}

// Default tier names.
const (
	TierFree        = "free"
	TierPayAsYouGo  = "pay_as_you_go"
	TierEnterprise  = "enterprise"
	DefaultTierName = TierFree
)

// DefaultTierConfigs returns the reference tiers.
func DefaultTierConfigs() []TierConfig {
	return []TierConfig{
		{Name: TierFree, RequestsPerMinute: 5, MinDelay: 12500 * time.Millisecond, MaxParallel: 1},
		{Name: TierPayAsYouGo, RequestsPerMinute: 60, MinDelay: 1100 * time.Millisecond, MaxParallel: 3},
		{Name: TierEnterprise, RequestsPerMinute: 600, MinDelay: 150 * time.Millisecond, MaxParallel: 8},
	}
}

// NewTierConfigs converts configured tiers, falling back to the reference tiers.
func NewTierConfigs(c *conf.Resilience) []TierConfig {
	if c == nil || len(c.Tiers) == 0 {
		return DefaultTierConfigs()
	}
	out := make([]TierConfig, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		if t == nil {
			continue
		}
		out = append(out, TierConfig{
			Name:              t.Name,
			RequestsPerMinute: t.RequestsPerMinute,
			MinDelay:          t.MinDelay,
			MaxParallel:       t.MaxParallel,
		})
	}
	return out
}

// tierLimiter gates one tier: a FIFO semaphore bounds parallelism and a
// single-token limiter spaces dispatches by the tier pacing.
type tierLimiter struct {
	cfg   TierConfig
	slots *semaphore.Weighted
	pace  *rate.Limiter
}

func newTierLimiter(cfg TierConfig) *tierLimiter {
	parallel := cfg.MaxParallel
	if parallel < 1 {
		parallel = 1
	}
	limit := rate.Inf
	if p := cfg.Pacing(); p > 0 {
		limit = rate.Every(p)
	}
	return &tierLimiter{
		cfg:   cfg,
		slots: semaphore.NewWeighted(int64(parallel)),
		pace:  rate.NewLimiter(limit, 1),
	}
}

// RateLimiter gates provider dispatches per tier. Waiters are served in
// arrival order and nothing is rejected; callers wait until a slot frees.
type RateLimiter struct {
	tiers       map[string]*tierLimiter
	order       []string
	defaultTier string
	metrics     *metrics.Metrics
	logger      *ilog.LogHelper
}

// NewRateLimiter creates a limiter for the given tiers. An empty defaultTier
// selects the first tier.
func NewRateLimiter(tiers []TierConfig, defaultTier string, m *metrics.Metrics, logger log.Logger) *RateLimiter {
	rl := &RateLimiter{
		tiers:   make(map[string]*tierLimiter, len(tiers)),
		metrics: m,
		logger:  ilog.NewLogHelper(logger),
	}
	for _, t := range tiers {
		if _, dup := rl.tiers[t.Name]; dup {
			continue
		}
		rl.tiers[t.Name] = newTierLimiter(t)
		rl.order = append(rl.order, t.Name)
	}

	rl.defaultTier = defaultTier
	if _, ok := rl.tiers[rl.defaultTier]; !ok && len(rl.order) > 0 {
		rl.defaultTier = rl.order[0]
	}
	return rl
}

// NewRateLimiterFromConfig builds a RateLimiter from configuration.
func NewRateLimiterFromConfig(c *conf.Resilience, m *metrics.Metrics, logger log.Logger) *RateLimiter {
	defaultTier := DefaultTierName
	if c != nil && c.Tier != "" {
		defaultTier = c.Tier
	}
	return NewRateLimiter(NewTierConfigs(c), defaultTier, m, logger)
}

// resolve maps an empty tier name to the default tier.
func (rl *RateLimiter) resolve(tier string) (string, *tierLimiter, error) {
	if tier == "" {
		tier = rl.defaultTier
	}
	tl, ok := rl.tiers[tier]
	if !ok {
		return tier, nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return tier, tl, nil
}

// Acquire blocks until the tier has a free parallel slot and its pacing
// allows another dispatch. On context cancellation it returns ctx.Err()
// without holding a slot. Every successful Acquire must be paired with Release.
func (rl *RateLimiter) Acquire(ctx context.Context, tier string) error {
	name, tl, err := rl.resolve(tier)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := tl.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	if err := tl.pace.Wait(ctx); err != nil {
		tl.slots.Release(1)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// the wait would outlive the context deadline
		return fmt.Errorf("rate limit wait for tier %s: %w", name, errors.Join(context.DeadlineExceeded, err))
	}

	waited := time.Since(start)
	rl.metrics.ObserveRateLimitWait(name, waited)
	rl.metrics.AddInFlight(name, 1)

	if waited > tl.cfg.Pacing() && waited > time.Second {
		rl.logger.RateLimit("rate limit queueing beyond tier pacing",
			"tier", name,
			"waited_ms", waited.Milliseconds(),
			"pacing_ms", tl.cfg.Pacing().Milliseconds(),
			"max_parallel", tl.cfg.MaxParallel)
	}
	return nil
}

// Release frees the slot taken by a successful Acquire.
func (rl *RateLimiter) Release(tier string) {
	name, tl, err := rl.resolve(tier)
	if err != nil {
		return
	}
	tl.slots.Release(1)
	rl.metrics.AddInFlight(name, -1)
}

// Tier returns the configuration of a tier; an empty name selects the default tier.
func (rl *RateLimiter) Tier(name string) (TierConfig, bool) {
	_, tl, err := rl.resolve(name)
	if err != nil {
		return TierConfig{}, false
	}
	return tl.cfg, true
}

// Tiers returns all configured tiers ordered by pacing, fastest last.
func (rl *RateLimiter) Tiers() []TierConfig {
	out := make([]TierConfig, 0, len(rl.order))
	for _, name := range rl.order {
		out = append(out, rl.tiers[name].cfg)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Pacing() > out[j].Pacing() })
	return out
}

// DefaultTier returns the tier used when a request names none.
func (rl *RateLimiter) DefaultTier() string {
	return rl.defaultTier
}
