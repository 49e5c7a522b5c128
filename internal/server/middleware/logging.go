package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "InsightRelay/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// tierGetter is implemented by request bodies that select a rate-limit tier.
type tierGetter interface {
	GetTier() string
}

// Logging returns a middleware that assigns a request id, injects the
// request context and logs one line per request, plus a warning for slow ones.
//
// Log output:
//
//	🟢 POST /v1/generate - 200 (542ms) | {"type":"request","request_id":"mgrn0zfqda",...}
//	🐌 [mgrn0zfqda] slow request POST /v1/generate (31.2s)
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				operation string
				ip        string
				userAgent string
				requestID string
				tier      string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
				requestID = tr.RequestHeader().Get(RequestIDHeader)

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					operation = httpReq.Method + " " + httpReq.URL.Path
					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")
				}
				if requestID == "" {
					requestID = pkglog.GenerateRequestID()
				}
				tr.ReplyHeader().Set(RequestIDHeader, requestID)
			}
			if tg, ok := req.(tierGetter); ok {
				tier = tg.GetTier()
			}

			ctx = pkglog.WithRequestContext(ctx, requestID, tier, nil)

			reply, err := handler(ctx, req)

			status := 200
			if err != nil {
				status = int(errors.FromError(err).Code)
			}
			logger.Request(ctx, operation, status, time.Since(startTime).Milliseconds(),
				"ip", ip,
				"user_agent", userAgent,
			)

			return reply, err
		}
	}
}

// extractClientIP returns the caller address.
// Priority: X-Real-IP > first X-Forwarded-For entry > RemoteAddr.
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return req.RemoteAddr
}
