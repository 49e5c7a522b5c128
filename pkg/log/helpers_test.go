package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// createTestLogger 创建写入内存缓冲区的日志记录器
func createTestLogger() (*LogHelper, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(buf), zapcore.DebugLevel)
	return NewLogHelper(NewKratosAdapter(zap.New(core))), buf
}

// lastEntry 解析缓冲区中的最后一条 JSON 日志
func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	entry := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLogHelper_TypedMethods(t *testing.T) {
	tests := []struct {
		name    string
		log     func(h *LogHelper)
		logType string
		level   string
	}{
		{"provider", func(h *LogHelper) { h.Provider("call ok", "provider", "gemini") }, TypeProvider, "info"},
		{"breaker", func(h *LogHelper) { h.Breaker("breaker opened", "provider", "openai") }, TypeBreaker, "warn"},
		{"retry", func(h *LogHelper) { h.Retry("retrying", "retry", 1) }, TypeRetry, "warn"},
		{"rate limit", func(h *LogHelper) { h.RateLimit("queued", "tier", "free") }, TypeRateLimit, "info"},
		{"fallback", func(h *LogHelper) { h.Fallback("next candidate") }, TypeFallback, "warn"},
		{"cache", func(h *LogHelper) { h.Cache("hit") }, TypeCache, "debug"},
		{"scheduler", func(h *LogHelper) { h.Scheduler("sweep") }, TypeScheduler, "info"},
		{"startup", func(h *LogHelper) { h.Startup("listening") }, TypeStartup, "info"},
		{"audit", func(h *LogHelper) { h.Audit("CIRCUIT_BROKEN") }, TypeAudit, "info"},
		{"success", func(h *LogHelper) { h.Success("done") }, TypeSuccess, "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			helper, buf := createTestLogger()
			tt.log(helper)

			entry := lastEntry(t, buf)
			assert.Equal(t, tt.logType, entry["type"])
			assert.Equal(t, tt.level, entry["level"])
			assert.NotEmpty(t, entry["msg"])
		})
	}
}

func TestLogHelper_Request(t *testing.T) {
	helper, buf := createTestLogger()
	ctx := WithRequestContext(context.Background(), "req0000001", "free", nil)

	helper.Request(ctx, "POST /v1/generate", 200, 150)

	entry := lastEntry(t, buf)
	assert.Equal(t, TypeRequest, entry["type"])
	assert.Equal(t, "req0000001", entry["request_id"])
	assert.Equal(t, "free", entry["tier"])
	assert.Equal(t, float64(200), entry["status"])
	assert.Contains(t, entry["msg"], "POST /v1/generate - 200 (150ms)")
}

func TestLogHelper_SlowRequest(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Request(context.Background(), "POST /v1/generate", 200, slowRequestThresholdMs+1)

	entry := lastEntry(t, buf)
	assert.Equal(t, TypeSlow, entry["type"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, unknownRequestID, entry["request_id"])
}

func TestLogHelper_CacheStats(t *testing.T) {
	helper, buf := createTestLogger()

	helper.CacheStats(10, 3, 1, 2)

	entry := lastEntry(t, buf)
	assert.Equal(t, "cache_stats", entry["type"])
	assert.Equal(t, "75.00%", entry["hit_rate"])
}

func TestRequestContext(t *testing.T) {
	id := GenerateRequestID()
	assert.Len(t, id, 10)
	assert.NotEqual(t, id, GenerateRequestID())

	ctx := WithRequestContext(context.Background(), id, "enterprise", map[string]string{"video_id": "v1"})
	reqCtx := GetRequestContext(ctx)
	assert.Equal(t, id, reqCtx.RequestID)
	assert.Equal(t, "enterprise", reqCtx.Tier)
	assert.Equal(t, "v1", reqCtx.Metadata["video_id"])
	assert.GreaterOrEqual(t, GetElapsedTime(ctx), int64(0))

	assert.Equal(t, unknownRequestID, GetRequestID(context.Background()))
	assert.Equal(t, int64(0), GetElapsedTime(context.Background()))
}
