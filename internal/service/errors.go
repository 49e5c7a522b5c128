package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"InsightRelay/internal/biz"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-playground/validator/v10"
)

// Error reasons returned to API callers.
const (
	ReasonInvalidRequest      = "INVALID_REQUEST"
	ReasonAllProvidersFailed  = "ALL_PROVIDERS_FAILED"
	ReasonBreakerNotFound     = "BREAKER_NOT_FOUND"
	ReasonRequestCancelled    = "REQUEST_CANCELLED"
	ReasonRequestTimeout      = "REQUEST_TIMEOUT"
	ReasonInternal            = "INTERNAL"
	statusClientClosedRequest = 499
)

// toAPIError maps orchestration errors to kratos errors. Provider messages
// never reach the caller: an exhausted fallback carries only the error kind
// of each candidate, keyed by "provider/model".
func toAPIError(err error) error {
	var exhausted *biz.ExhaustedFallbackError
	switch {
	case stderrors.As(err, &exhausted):
		md := make(map[string]string, len(exhausted.Errors))
		for _, ce := range exhausted.Errors {
			md[ce.Candidate.String()] = biz.ErrorKind(ce.Err)
		}
		return errors.ServiceUnavailable(ReasonAllProvidersFailed,
			fmt.Sprintf("all %d provider candidates failed", len(exhausted.Errors))).WithMetadata(md)
	case stderrors.Is(err, biz.ErrEmptyPrompt),
		stderrors.Is(err, biz.ErrInvalidKind),
		stderrors.Is(err, biz.ErrUnknownTier),
		stderrors.Is(err, biz.ErrNoCandidates):
		return errors.BadRequest(ReasonInvalidRequest, err.Error())
	case stderrors.Is(err, context.Canceled):
		return errors.New(statusClientClosedRequest, ReasonRequestCancelled, "request cancelled")
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.GatewayTimeout(ReasonRequestTimeout, "request deadline exceeded")
	default:
		return errors.InternalServer(ReasonInternal, "internal error")
	}
}

// invalidRequest reports which fields failed validation, without their values.
func invalidRequest(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.BadRequest(ReasonInvalidRequest, "malformed request")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return errors.BadRequest(ReasonInvalidRequest, "invalid fields: "+strings.Join(fields, ", "))
}

func breakerNotFound(provider string) error {
	return errors.NotFound(ReasonBreakerNotFound, fmt.Sprintf("provider %q is not configured", provider))
}
