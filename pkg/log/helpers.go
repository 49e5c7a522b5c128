package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// 日志类型，写入 "type" 字段，由 EmojiConsoleEncoder 映射为表情符号
const (
	TypeProvider  = "provider"
	TypeBreaker   = "breaker"
	TypeRetry     = "retry"
	TypeRateLimit = "rate_limit"
	TypeFallback  = "fallback"
	TypeCache     = "cache"
	TypeScheduler = "scheduler"
	TypeStartup   = "startup"
	TypeRequest   = "request"
	TypeAudit     = "audit"
	TypeSuccess   = "success"
	TypeSlow      = "slow_request"
)

// slowRequestThresholdMs 超过该耗时的请求额外记录一条慢请求警告
const slowRequestThresholdMs = 30_000

// LogHelper 扩展 Kratos log.Helper，提供按类型打标的日志方法
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

// typed 组装 msg、调用方字段和 type 字段
func typed(logType, msg string, kvs []interface{}) []interface{} {
	all := make([]interface{}, 0, len(kvs)+4)
	all = append(all, "msg", msg)
	all = append(all, kvs...)
	return append(all, "type", logType)
}

// Provider 记录上游模型调用日志（表情符号: 🤖）
func (h *LogHelper) Provider(msg string, kvs ...interface{}) {
	h.Infow(typed(TypeProvider, msg, kvs)...)
}

// Breaker 记录熔断器状态变化（表情符号: 🔌）
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	h.Warnw(typed(TypeBreaker, msg, kvs)...)
}

// Retry 记录重试日志（表情符号: 🔁）
func (h *LogHelper) Retry(msg string, kvs ...interface{}) {
	h.Warnw(typed(TypeRetry, msg, kvs)...)
}

// RateLimit 记录速率限制排队日志（表情符号: 🚦）
func (h *LogHelper) RateLimit(msg string, kvs ...interface{}) {
	h.Infow(typed(TypeRateLimit, msg, kvs)...)
}

// Fallback 记录候选切换日志（表情符号: 🪂）
func (h *LogHelper) Fallback(msg string, kvs ...interface{}) {
	h.Warnw(typed(TypeFallback, msg, kvs)...)
}

// Cache 记录结果缓存日志（表情符号: 📦）
func (h *LogHelper) Cache(msg string, kvs ...interface{}) {
	h.Debugw(typed(TypeCache, msg, kvs)...)
}

// Scheduler 记录定时任务日志（表情符号: 🎯）
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(typed(TypeScheduler, msg, kvs)...)
}

// Startup 记录启动相关日志（表情符号: 🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(typed(TypeStartup, msg, kvs)...)
}

// Audit 记录审计日志（表情符号: 📋）
func (h *LogHelper) Audit(msg string, kvs ...interface{}) {
	h.Infow(typed(TypeAudit, msg, kvs)...)
}

// Success 记录成功操作日志（表情符号: ✅）
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	h.Infow(typed(TypeSuccess, msg, kvs)...)
}

// Request 记录 HTTP/gRPC 请求日志（表情符号根据状态码）
// 自动从 Context 提取 Request ID，超过阈值时追加慢请求警告
func (h *LogHelper) Request(ctx context.Context, operation string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("%s - %d (%dms)", operation, status, durationMs)

	all := typed(TypeRequest, msg, kvs)
	all = append(all,
		"request_id", reqCtx.RequestID,
		"tier", reqCtx.Tier,
		"operation", operation,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(all...)

	if durationMs > slowRequestThresholdMs {
		h.Warnw(typed(TypeSlow, fmt.Sprintf("[%s] slow request %s (%s)", reqCtx.RequestID, operation, formatDuration(durationMs)),
			[]interface{}{"request_id", reqCtx.RequestID, "duration_ms", durationMs, "threshold_ms", slowRequestThresholdMs})...)
	}
}

// CacheStats 记录缓存统计信息（表情符号: 🧹）
func (h *LogHelper) CacheStats(size int, hits, misses, expired uint64, kvs ...interface{}) {
	var hitRate float64
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	msg := fmt.Sprintf("Result cache | Size: %d, Hit Rate: %.2f%%, Expired: %d", size, hitRate, expired)
	all := typed("cache_stats", msg, kvs)
	all = append(all,
		"size", size,
		"hits", hits,
		"misses", misses,
		"expired", expired,
		"hit_rate", fmt.Sprintf("%.2f%%", hitRate),
	)
	h.Infow(all...)
}
