// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files, an optional .env file and
// environment variables, with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"InsightRelay/pkg/crypto"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// KnownProviders lists the provider ids that have a wire client.
var KnownProviders = []string{"openai", "anthropic", "gemini"}

// providerKeyEnv maps provider ids to their conventional API key variables.
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with INSIGHTRELAY_.
//
// Configuration priority: CLI flags > Environment variables > .env > Config file > Defaults
//
// Provider API keys may be given directly (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY)
// and may be sealed ("enc:..."), in which case ENCRYPTION_KEY must be set.
func NewBootstrap(configPath string) (*Bootstrap, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("INSIGHTRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, name := range KnownProviders {
		key := fmt.Sprintf("data.providers.%s.api_key", name)
		_ = v.BindEnv(key, providerKeyEnv[name], "INSIGHTRELAY_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	_ = v.BindEnv("auth.encryption.key", "ENCRYPTION_KEY", "INSIGHTRELAY_AUTH_ENCRYPTION_KEY")
	_ = v.BindEnv("auth.admin_token", "INSIGHTRELAY_ADMIN_TOKEN", "INSIGHTRELAY_AUTH_ADMIN_TOKEN")
	_ = v.BindEnv("log.env", "INSIGHTRELAY_ENV", "INSIGHTRELAY_LOG_ENV")
	_ = v.BindEnv("resilience.tier", "INSIGHTRELAY_TIER", "INSIGHTRELAY_RESILIENCE_TIER")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &ServerHTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
			GRPC: &ServerGRPC{
				Network: v.GetString("server.grpc.network"),
				Addr:    v.GetString("server.grpc.addr"),
				Timeout: v.GetDuration("server.grpc.timeout"),
			},
		},
		Data: &Data{
			Providers: make(map[string]*Provider, len(KnownProviders)),
		},
		Resilience: &Resilience{
			Tier:        v.GetString("resilience.tier"),
			CallTimeout: v.GetDuration("resilience.call_timeout"),
			Breaker: &Breaker{
				FailureThreshold: v.GetInt("resilience.breaker.failure_threshold"),
				ResetTimeout:     v.GetDuration("resilience.breaker.reset_timeout"),
			},
			Retry: &Retry{
				MaxRetries: v.GetInt("resilience.retry.max_retries"),
				BaseDelay:  v.GetDuration("resilience.retry.base_delay"),
				MaxDelay:   v.GetDuration("resilience.retry.max_delay"),
			},
			Cache: &Cache{
				TTL:           v.GetDuration("resilience.cache.ttl"),
				Size:          v.GetInt("resilience.cache.size"),
				SingleFlight:  v.GetBool("resilience.cache.single_flight"),
				SweepSchedule: v.GetString("resilience.cache.sweep_schedule"),
			},
			Fallback: &Fallback{
				Chains: map[string][]*Candidate{},
			},
		},
		Auth: &Auth{
			Encryption: &Encryption{
				Key: v.GetString("auth.encryption.key"),
			},
			AdminToken: v.GetString("auth.admin_token"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	for _, name := range KnownProviders {
		prefix := "data.providers." + name
		bc.Data.Providers[name] = &Provider{
			Enabled:  v.GetBool(prefix + ".enabled"),
			APIKey:   v.GetString(prefix + ".api_key"),
			BaseURL:  v.GetString(prefix + ".base_url"),
			ProxyURL: v.GetString(prefix + ".proxy_url"),
		}
	}

	if err := v.UnmarshalKey("resilience.tiers", &bc.Resilience.Tiers); err != nil {
		return nil, fmt.Errorf("failed to parse resilience.tiers: %w", err)
	}
	if err := v.UnmarshalKey("resilience.fallback.chains", &bc.Resilience.Fallback.Chains); err != nil {
		return nil, fmt.Errorf("failed to parse resilience.fallback.chains: %w", err)
	}

	if err := openSealedKeys(bc); err != nil {
		return nil, err
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	// provider calls may retry for minutes; keep the HTTP timeout above the worst case
	v.SetDefault("server.http.timeout", 15*time.Minute)

	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":9000")
	v.SetDefault("server.grpc.timeout", 10*time.Second)

	// Provider defaults
	v.SetDefault("data.providers.openai.enabled", true)
	v.SetDefault("data.providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("data.providers.anthropic.enabled", true)
	v.SetDefault("data.providers.anthropic.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("data.providers.gemini.enabled", true)
	v.SetDefault("data.providers.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")

	// Resilience defaults
	v.SetDefault("resilience.tier", "free")
	v.SetDefault("resilience.call_timeout", 120*time.Second)
	v.SetDefault("resilience.tiers", []map[string]interface{}{
		{"name": "free", "requests_per_minute": 5, "min_delay": "12500ms", "max_parallel": 1},
		{"name": "pay_as_you_go", "requests_per_minute": 60, "min_delay": "1100ms", "max_parallel": 3},
		{"name": "enterprise", "requests_per_minute": 600, "min_delay": "150ms", "max_parallel": 8},
	})

	v.SetDefault("resilience.breaker.failure_threshold", 5)
	v.SetDefault("resilience.breaker.reset_timeout", 60*time.Second)

	v.SetDefault("resilience.retry.max_retries", 5)
	v.SetDefault("resilience.retry.base_delay", 2*time.Second)
	v.SetDefault("resilience.retry.max_delay", 65*time.Second)

	v.SetDefault("resilience.cache.ttl", 5*time.Minute)
	v.SetDefault("resilience.cache.size", 1024)
	v.SetDefault("resilience.cache.single_flight", false)
	v.SetDefault("resilience.cache.sweep_schedule", "@every 1m")

	v.SetDefault("resilience.fallback.chains", map[string]interface{}{
		"text": []map[string]interface{}{
			{"provider": "gemini", "model": "gemini-1.5-flash", "order": 1},
			{"provider": "openai", "model": "gpt-4o-mini", "order": 2},
			{"provider": "anthropic", "model": "claude-3-5-haiku-latest", "order": 3},
		},
		"image": []map[string]interface{}{
			{"provider": "openai", "model": "dall-e-3", "order": 1},
			{"provider": "openai", "model": "dall-e-2", "order": 2},
		},
	})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// openSealedKeys replaces sealed provider keys with their plaintext.
func openSealedKeys(bc *Bootstrap) error {
	var key []byte
	if bc.Auth != nil && bc.Auth.Encryption != nil {
		key = []byte(bc.Auth.Encryption.Key)
	}

	for name, p := range bc.Data.Providers {
		if p == nil || !crypto.IsSealed(p.APIKey) {
			continue
		}
		plain, err := crypto.OpenWithKey(key, p.APIKey)
		if err != nil {
			return fmt.Errorf("failed to open sealed api key for provider %s: %w", name, err)
		}
		p.APIKey = plain
	}

	return nil
}

// Validate checks that all configuration fields are present and valid.
// It returns an error listing every problem found.
func Validate(bc *Bootstrap) error {
	var problems []string

	r := bc.Resilience
	if r == nil {
		return fmt.Errorf("invalid configuration: resilience section is missing")
	}

	if r.Breaker == nil || r.Breaker.FailureThreshold < 1 {
		problems = append(problems, "resilience.breaker.failure_threshold must be >= 1")
	}
	if r.Breaker == nil || r.Breaker.ResetTimeout <= 0 {
		problems = append(problems, "resilience.breaker.reset_timeout must be > 0")
	}

	if r.Retry == nil || r.Retry.MaxRetries < 0 {
		problems = append(problems, "resilience.retry.max_retries must be >= 0")
	}
	if r.Retry == nil || r.Retry.BaseDelay <= 0 {
		problems = append(problems, "resilience.retry.base_delay must be > 0")
	}
	if r.Retry != nil && r.Retry.MaxDelay < r.Retry.BaseDelay {
		problems = append(problems, "resilience.retry.max_delay must be >= base_delay")
	}

	if r.CallTimeout <= 0 {
		problems = append(problems, "resilience.call_timeout must be > 0")
	}

	if r.Cache == nil || r.Cache.Size < 1 {
		problems = append(problems, "resilience.cache.size must be >= 1")
	}

	seen := make(map[string]bool, len(r.Tiers))
	for _, t := range r.Tiers {
		if t == nil || t.Name == "" {
			problems = append(problems, "resilience.tiers: tier name is required")
			continue
		}
		if seen[t.Name] {
			problems = append(problems, fmt.Sprintf("resilience.tiers: duplicate tier %q", t.Name))
		}
		seen[t.Name] = true
		if t.MaxParallel < 1 {
			problems = append(problems, fmt.Sprintf("resilience.tiers.%s.max_parallel must be >= 1", t.Name))
		}
		if t.RequestsPerMinute < 0 || t.MinDelay < 0 {
			problems = append(problems, fmt.Sprintf("resilience.tiers.%s: pacing values must be >= 0", t.Name))
		}
	}
	if !seen[r.Tier] {
		problems = append(problems, fmt.Sprintf("resilience.tier %q is not a configured tier", r.Tier))
	}

	if r.Fallback != nil {
		for kind, chain := range r.Fallback.Chains {
			for i, c := range chain {
				if c == nil || c.Provider == "" || c.Model == "" {
					problems = append(problems, fmt.Sprintf("resilience.fallback.chains.%s[%d]: provider and model are required", kind, i))
				}
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
