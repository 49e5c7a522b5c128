package log

import (
	"context"
	"math/rand/v2"
	"time"
)

// contextKey 是用于存储 RequestContext 的私有 key 类型
type contextKey string

const requestContextKey contextKey = "insightrelay_request_context"

// unknownRequestID 在 Context 中没有追踪信息时使用
const unknownRequestID = "unknown"

// RequestContext 存储请求追踪信息
// 通过 Context 传递，实现跨函数、跨模块的请求追踪
type RequestContext struct {
	RequestID string            // 唯一请求 ID (10位短ID，如 mgrn0zfqda)
	Tier      string            // 速率限制档位
	StartTime time.Time         // 请求开始时间
	Metadata  map[string]string // 调用方附带的元数据（如 video_id）
}

// base36 字符集（小写字母 + 数字）
const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateRequestID 生成10位随机请求ID
// 格式: 小写字母+数字，例如 mgrn0zfqda
func GenerateRequestID() string {
	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[rand.IntN(len(base36Chars))]
	}
	return string(b)
}

// WithRequestContext 将 RequestContext 注入到 Context 中
// 通常在中间件中调用，为整个请求生命周期提供追踪信息
func WithRequestContext(ctx context.Context, requestID, tier string, metadata map[string]string) context.Context {
	reqCtx := &RequestContext{
		RequestID: requestID,
		Tier:      tier,
		StartTime: time.Now(),
		Metadata:  metadata,
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext 从 Context 中提取 RequestContext
// 如果不存在，返回一个默认的空 RequestContext
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{RequestID: unknownRequestID}
}

// GetRequestID 从 Context 中提取 Request ID
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetElapsedTime 获取请求已执行时间（毫秒）
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
