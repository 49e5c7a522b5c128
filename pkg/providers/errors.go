package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FatalError 的 Reason 取值
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonMalformedRequest   = "malformed_request"
	ReasonQuotaExhausted     = "quota_exhausted"
	ReasonClientError        = "client_error"
	ReasonInvalidResponse    = "invalid_response"
	ReasonUnsupported        = "unsupported"
	ReasonUnknownProvider    = "unknown_provider"
	ReasonUnclassified       = "unclassified"
)

// maxMessageLen 错误消息最大长度（避免把整个响应体写进日志）
const maxMessageLen = 512

// TransientError 可重试错误：超时、429、5xx、网络错误
type TransientError struct {
	Provider   string
	StatusCode int
	// RetryAfter Provider 明确给出的重试等待时间（0 表示未给出）
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: transient error: %s", e.Provider, e.Message)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError 不可重试错误：凭证无效、请求格式错误、其他 4xx
type FatalError struct {
	Provider   string
	StatusCode int
	Reason     string
	Message    string
	Err        error
}

func (e *FatalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: fatal error %s (HTTP %d): %s", e.Provider, e.Reason, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: fatal error %s: %s", e.Provider, e.Reason, e.Message)
}

func (e *FatalError) Unwrap() error { return e.Err }

// CountsAgainstProvider 是否计入 Provider 的熔断失败次数。
// 请求本身的问题（格式错误、不支持的能力、未知 Provider）不代表 Provider 不健康。
func (e *FatalError) CountsAgainstProvider() bool {
	switch e.Reason {
	case ReasonMalformedRequest, ReasonUnsupported, ReasonUnknownProvider:
		return false
	default:
		return true
	}
}

// IsTransient 判断是否为可重试错误
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal 判断是否为不可重试错误
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ClassifyHTTPError 根据非 2xx 响应构造错误
// 429、408、5xx 为可重试；401/403 为凭证错误；400/404/422 为请求格式错误；其他 4xx 为客户端错误。
func ClassifyHTTPError(provider string, statusCode int, header http.Header, body []byte, now time.Time) error {
	msg := extractErrorMessage(body)

	switch {
	case statusCode == http.StatusTooManyRequests:
		// OpenAI 用 429 表示额度耗尽，重试无意义
		if errorCode(body) == "insufficient_quota" {
			return &FatalError{Provider: provider, StatusCode: statusCode, Reason: ReasonQuotaExhausted, Message: msg}
		}
		return &TransientError{
			Provider:   provider,
			StatusCode: statusCode,
			RetryAfter: retryAfter(header, body, now),
			Message:    msg,
		}

	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		return &TransientError{
			Provider:   provider,
			StatusCode: statusCode,
			RetryAfter: retryAfter(header, body, now),
			Message:    msg,
		}

	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &FatalError{Provider: provider, StatusCode: statusCode, Reason: ReasonInvalidCredentials, Message: msg}

	case statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound || statusCode == http.StatusUnprocessableEntity:
		return &FatalError{Provider: provider, StatusCode: statusCode, Reason: ReasonMalformedRequest, Message: msg}

	case statusCode >= 400:
		return &FatalError{Provider: provider, StatusCode: statusCode, Reason: ReasonClientError, Message: msg}

	default:
		return &FatalError{
			Provider:   provider,
			StatusCode: statusCode,
			Reason:     ReasonInvalidResponse,
			Message:    fmt.Sprintf("unexpected status code %d", statusCode),
		}
	}
}

// ClassifyTransportError 对网络层错误分类
// 超时和连接类错误可重试；调用方取消（context.Canceled）原样返回。
func ClassifyTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Provider: provider, Message: "request timed out", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &TransientError{Provider: provider, Message: "request timed out", Err: err}
		}
		return &TransientError{Provider: provider, Message: "network error", Err: err}
	}

	return &TransientError{Provider: provider, Message: truncate(err.Error()), Err: err}
}

// ParseRetryAfter 解析 Retry-After 头（秒数或 HTTP 日期）
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}

	return 0
}

// retryAfter 依次尝试 Retry-After、retry-after-ms、Gemini RetryInfo
func retryAfter(header http.Header, body []byte, now time.Time) time.Duration {
	if header != nil {
		if ms := header.Get("retry-after-ms"); ms != "" {
			if v, err := strconv.ParseFloat(ms, 64); err == nil && v > 0 {
				return time.Duration(v * float64(time.Millisecond))
			}
		}
		if d := ParseRetryAfter(header.Get("Retry-After"), now); d > 0 {
			return d
		}
	}
	return geminiRetryDelay(body)
}

// genericErrorBody 兼容 OpenAI / Anthropic / Gemini 的错误响应格式
type genericErrorBody struct {
	Error json.RawMessage `json:"error"`
}

type errorDetail struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"`
	Status  string          `json:"status"`
	Details []struct {
		Type       string `json:"@type"`
		RetryDelay string `json:"retryDelay"`
	} `json:"details"`
}

func parseErrorDetail(body []byte) *errorDetail {
	var wrapper genericErrorBody
	if err := json.Unmarshal(body, &wrapper); err != nil || len(wrapper.Error) == 0 {
		return nil
	}
	var detail errorDetail
	if err := json.Unmarshal(wrapper.Error, &detail); err != nil {
		// Anthropic 偶尔返回 "error": "message"
		var s string
		if json.Unmarshal(wrapper.Error, &s) == nil {
			return &errorDetail{Message: s}
		}
		return nil
	}
	return &detail
}

func extractErrorMessage(body []byte) string {
	if d := parseErrorDetail(body); d != nil && d.Message != "" {
		return truncate(d.Message)
	}
	return truncate(strings.TrimSpace(string(body)))
}

func errorCode(body []byte) string {
	d := parseErrorDetail(body)
	if d == nil {
		return ""
	}
	var code string
	if err := json.Unmarshal(d.Code, &code); err == nil && code != "" {
		return code
	}
	return d.Type
}

// geminiRetryDelay 解析 google.rpc.RetryInfo 中的 retryDelay（如 "37s"）
func geminiRetryDelay(body []byte) time.Duration {
	d := parseErrorDetail(body)
	if d == nil {
		return 0
	}
	for _, detail := range d.Details {
		if !strings.HasSuffix(detail.Type, "google.rpc.RetryInfo") || detail.RetryDelay == "" {
			continue
		}
		if delay, err := time.ParseDuration(detail.RetryDelay); err == nil && delay > 0 {
			return delay
		}
	}
	return 0
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	return s[:maxMessageLen] + "..."
}
