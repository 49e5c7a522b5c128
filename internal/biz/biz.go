// Package biz contains the provider orchestration core: circuit breakers,
// tiered rate limiting, retry policy, result caching and ordered fallback.
package biz

import (
	"InsightRelay/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBreakerConfig,
	NewBreakerRegistry,
	NewRateLimiterFromConfig,
	NewRetryConfig,
	NewRetryPolicy,
	NewResultCacheFromConfig,
	NewAdapterConfig,
	NewProviderAdapter,
	NewOrchestratorConfig,
	NewFallbackOrchestrator,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(ProviderRepo), new(*data.ProviderRepo)),
	wire.Bind(new(BreakerObserver), new(*data.BreakerAuditLog)),
)
