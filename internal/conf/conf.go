package conf

import "time"

// Bootstrap is the root configuration of the service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Resilience *Resilience
	Auth       *Auth
	Log        *Log
}

// Server holds transport settings.
type Server struct {
	HTTP *ServerHTTP
	GRPC *ServerGRPC
}

// ServerHTTP configures the HTTP listener.
type ServerHTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// ServerGRPC configures the gRPC listener (health service).
type ServerGRPC struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data holds outbound provider settings keyed by provider id (openai, anthropic, gemini).
type Data struct {
	Providers map[string]*Provider
}

// Provider configures one AI provider client.
type Provider struct {
	Enabled  bool
	APIKey   string
	BaseURL  string
	ProxyURL string
}

// Resilience groups breaker, rate limiting, retry, cache and fallback settings.
type Resilience struct {
	// Tier is the default tier name used when a request does not select one.
	Tier        string
	Tiers       []*Tier
	CallTimeout time.Duration
	Breaker     *Breaker
	Retry       *Retry
	Cache       *Cache
	Fallback    *Fallback
}

// Tier is a named rate-limit/concurrency profile.
type Tier struct {
	Name              string        `mapstructure:"name"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
	MaxParallel       int           `mapstructure:"max_parallel"`
}

// Breaker configures per-provider circuit breakers.
type Breaker struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Retry configures the retry policy.
type Retry struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Cache configures the result cache.
type Cache struct {
	TTL           time.Duration
	Size          int
	SingleFlight  bool
	SweepSchedule string
}

// Fallback holds default candidate chains per generation kind ("text", "image").
type Fallback struct {
	Chains map[string][]*Candidate
}

// Candidate is one (provider, model) entry of a fallback chain.
type Candidate struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	Order    int    `mapstructure:"order"`
}

// Auth holds secrets used to open sealed configuration values and to guard
// administrative routes.
type Auth struct {
	Encryption *Encryption
	// AdminToken, when set, is required as a bearer token on breaker resets.
	AdminToken string
}

// Encryption holds the AES-256 key for sealed provider keys.
type Encryption struct {
	Key string
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
