package biz

import (
	"errors"
	"fmt"
	"strings"

	"InsightRelay/pkg/providers"
)

// TransientProviderError is a retryable provider failure (timeout, 429, 5xx).
type TransientProviderError = providers.TransientError

// FatalProviderError is a non-retryable provider failure (credentials, malformed request, other 4xx).
type FatalProviderError = providers.FatalError

var (
	// ErrNoCandidates is returned when neither the request nor the configured chains name a candidate.
	ErrNoCandidates = errors.New("no fallback candidates")
	// ErrEmptyPrompt is returned for requests without a prompt.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrUnknownTier is returned when a tier name is not configured.
	ErrUnknownTier = errors.New("unknown rate-limit tier")
	// ErrInvalidKind is returned for a generation kind other than text or image.
	ErrInvalidKind = errors.New("invalid generation kind")
)

// CircuitOpenError reports that a provider was skipped because its breaker is open.
type CircuitOpenError struct {
	Provider string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %s", e.Provider)
}

// CandidateError is the terminal error of one candidate during fallback.
type CandidateError struct {
	Candidate CandidateDescriptor
	Err       error
}

// Error implements the error interface.
func (e CandidateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Candidate, e.Err)
}

// Unwrap returns the underlying error.
func (e CandidateError) Unwrap() error { return e.Err }

// ExhaustedFallbackError is returned when every candidate failed or was skipped.
// Errors holds one entry per candidate, in candidate order.
type ExhaustedFallbackError struct {
	Errors []CandidateError
}

// Error implements the error interface.
func (e *ExhaustedFallbackError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ce := range e.Errors {
		parts = append(parts, ce.Error())
	}
	return fmt.Sprintf("all %d candidates failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes every candidate error to errors.Is/As.
func (e *ExhaustedFallbackError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, ce := range e.Errors {
		errs = append(errs, ce.Err)
	}
	return errs
}

// ErrorKind classifies an error for logs, metrics and API summaries.
func ErrorKind(err error) string {
	var (
		circuitErr *CircuitOpenError
		fatalErr   *FatalProviderError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &circuitErr):
		return "circuit_open"
	case providers.IsTransient(err):
		return "transient"
	case errors.As(err, &fatalErr):
		return "fatal"
	default:
		return "error"
	}
}
