package biz

import (
	"InsightRelay/pkg/providers"
)

// GenerationRequest is a provider-independent generation request.
// APIKeys and Metadata never take part in the request fingerprint.
type GenerationRequest struct {
	Kind         providers.Kind
	SystemPrompt string
	Prompt       string
	Temperature  *float64
	MaxTokens    int
	Seed         *int64
	ImageSize    string

	// APIKeys holds per-request credentials keyed by provider id.
	APIKeys map[string]string
	// Metadata is opaque caller context (video id, session id) carried into logs.
	Metadata map[string]string
}

// CandidateDescriptor is one (provider, model) pair of a fallback chain.
type CandidateDescriptor struct {
	Provider string
	Model    string
	Order    int
}

// String returns "provider/model".
func (c CandidateDescriptor) String() string {
	return c.Provider + "/" + c.Model
}

// GenerationResult is the outcome of a successful generation, returned by value.
type GenerationResult struct {
	ID           string
	Payload      string
	ProviderUsed string
	ModelUsed    string
	LatencyMs    int64
	// AttemptCount is the number of provider calls made for this result; 0 for cache hits.
	AttemptCount int
	Seed         *int64
	Cached       bool
}

// providerRequest binds a generation request to a concrete candidate.
func (r *GenerationRequest) providerRequest(c CandidateDescriptor) *providers.Request {
	kind := r.Kind
	if kind == "" {
		kind = providers.KindText
	}
	return &providers.Request{
		Kind:         kind,
		Model:        c.Model,
		SystemPrompt: r.SystemPrompt,
		Prompt:       r.Prompt,
		Temperature:  r.Temperature,
		MaxTokens:    r.MaxTokens,
		Seed:         r.Seed,
		ImageSize:    r.ImageSize,
		APIKey:       r.APIKeys[c.Provider],
	}
}
