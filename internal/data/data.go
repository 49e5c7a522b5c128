// Package data provides data access layer implementations.
// It owns the provider wire clients and the breaker audit trail.
package data

import (
	"fmt"
	"sort"

	"InsightRelay/internal/conf"
	"InsightRelay/pkg/providers"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewProviderRepo,
	NewBreakerAuditLog,
)

// clientFactory builds one provider wire client.
type clientFactory func(cfg providers.ClientConfig) (providers.Client, error)

var clientFactories = map[string]clientFactory{
	providers.OpenAI: func(cfg providers.ClientConfig) (providers.Client, error) {
		return providers.NewOpenAIClient(cfg)
	},
	providers.Anthropic: func(cfg providers.ClientConfig) (providers.Client, error) {
		return providers.NewAnthropicClient(cfg)
	},
	providers.Gemini: func(cfg providers.ClientConfig) (providers.Client, error) {
		return providers.NewGeminiClient(cfg)
	},
}

// Data contains all data layer dependencies.
type Data struct {
	// clients holds one wire client per enabled provider
	clients map[string]providers.Client
}

// NewData creates the provider clients for every enabled provider.
// A provider without a configured key is still created; requests may carry their own key.
func NewData(c *conf.Data, r *conf.Resilience, logger log.Logger) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	timeout := providers.DefaultTimeout
	if r != nil && r.CallTimeout > 0 {
		timeout = r.CallTimeout
	}

	d := &Data{clients: make(map[string]providers.Client)}
	if c != nil {
		names := make([]string, 0, len(c.Providers))
		for name := range c.Providers {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			p := c.Providers[name]
			if p == nil || !p.Enabled {
				continue
			}
			factory, ok := clientFactories[name]
			if !ok {
				return nil, nil, fmt.Errorf("unknown provider %q in configuration", name)
			}
			client, err := factory(providers.ClientConfig{
				APIKey:   p.APIKey,
				BaseURL:  p.BaseURL,
				ProxyURL: p.ProxyURL,
				Timeout:  timeout,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create %s client: %w", name, err)
			}
			if p.APIKey == "" {
				helper.Warnw("msg", "provider has no default API key; requests must supply one", "provider", name)
			}
			d.clients[name] = client
		}
	}

	if len(d.clients) == 0 {
		helper.Warn("no providers enabled, every generation will fail")
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}
