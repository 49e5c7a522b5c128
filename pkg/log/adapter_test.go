package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"InsightRelay/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFileAdapter 创建写入临时文件的 Kratos 适配器
func newFileAdapter(t *testing.T, level string) (log.Logger, func() string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "adapter.log")
	zapLog, err := NewZapLogger(&conf.Log{Level: level, Format: "json", OutputFile: logFile, Env: "production"})
	require.NoError(t, err)

	read := func() string {
		_ = zapLog.Sync()
		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		return string(content)
	}
	return NewKratosAdapter(zapLog), read
}

func TestKratosAdapter_EmptyAndOddKeyvals(t *testing.T) {
	adapter, read := newFileAdapter(t, "info")

	assert.NoError(t, adapter.Log(log.LevelInfo))
	assert.NoError(t, adapter.Log(log.LevelInfo, "msg", "odd keyvals", "provider", "gemini", "dangling"))

	content := read()
	assert.Contains(t, content, `"msg":"odd keyvals"`)
	assert.Contains(t, content, `"provider":"gemini"`)
	assert.NotContains(t, content, "dangling")
}

func TestKratosAdapter_LevelMapping(t *testing.T) {
	adapter, read := newFileAdapter(t, "debug")

	levels := map[string]log.Level{"debug": log.LevelDebug, "info": log.LevelInfo, "warn": log.LevelWarn, "error": log.LevelError}
	for name, level := range levels {
		require.NoError(t, adapter.Log(level, "msg", "level "+name))
	}

	content := read()
	for _, name := range []string{"debug", "info", "warn", "error"} {
		assert.Contains(t, content, `"level":"`+name+`"`)
		assert.Contains(t, content, "level "+name)
	}
}

func TestKratosAdapter_SanitizesCredentials(t *testing.T) {
	adapter, read := newFileAdapter(t, "info")

	require.NoError(t, adapter.Log(log.LevelInfo,
		"msg", "provider configured",
		"provider", "openai",
		"api_key", "sk-1234567890abcdefghij",
		"error", errors.New("upstream 503"),
		"attempts", 3,
	))

	content := read()
	assert.NotContains(t, content, "sk-1234567890abcdefghij")
	assert.Contains(t, content, "sk-1***************ghij")
	assert.Contains(t, content, `"error":"upstream 503"`)
	assert.Contains(t, content, `"attempts":3`)
}

func TestKratosAdapter_WithKratosHelpers(t *testing.T) {
	adapter, read := newFileAdapter(t, "info")

	logger := log.With(adapter, "service.version", "1.0.0")
	logger = log.NewFilter(logger, log.FilterLevel(log.LevelInfo))
	helper := log.NewHelper(logger)
	helper.Debug("filtered out")
	helper.Infow("msg", "through filter", "tier", "free")

	content := read()
	assert.NotContains(t, content, "filtered out")
	assert.Contains(t, content, "through filter")
	assert.Contains(t, content, `"service.version":"1.0.0"`)
}
