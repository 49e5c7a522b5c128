package biz

import (
	"encoding/json"
	"fmt"
	"strings"

	"InsightRelay/pkg/providers"

	"github.com/cespare/xxhash/v2"
)

// fingerprintFields are the request fields that determine the result.
// Credentials and caller metadata are not part of it.
type fingerprintFields struct {
	Kind         providers.Kind `json:"k"`
	SystemPrompt string         `json:"s"`
	Prompt       string         `json:"p"`
	Temperature  *float64       `json:"t,omitempty"`
	MaxTokens    int            `json:"m,omitempty"`
	Seed         *int64         `json:"seed,omitempty"`
	ImageSize    string         `json:"i,omitempty"`
	// Chain is the ordered "provider/model" list the caller allowed.
	Chain []string `json:"c"`
}

// Fingerprint returns a stable 64-bit hex digest of the normalized request and
// its candidate chain in dispatch order, so a cached result always comes from
// a candidate the caller allowed. Requests differing only in API keys, metadata
// or surrounding whitespace share a fingerprint.
func Fingerprint(req *GenerationRequest, candidates []CandidateDescriptor) string {
	kind := req.Kind
	if kind == "" {
		kind = providers.KindText
	}
	fields := fingerprintFields{
		Kind:         kind,
		SystemPrompt: normalizeText(req.SystemPrompt),
		Prompt:       normalizeText(req.Prompt),
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Seed:         req.Seed,
		ImageSize:    strings.ToLower(strings.TrimSpace(req.ImageSize)),
	}
	for _, c := range orderCandidates(candidates) {
		fields.Chain = append(fields.Chain, strings.ToLower(c.Provider)+"/"+c.Model)
	}

	// marshaling a struct of plain fields cannot fail
	data, _ := json.Marshal(fields)
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func normalizeText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
