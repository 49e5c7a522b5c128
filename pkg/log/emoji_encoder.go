package log

import (
	"fmt"
	"maps"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// 按 type 字段选择前缀
var emojiMap = map[string]string{
	TypeProvider:  "🤖",
	TypeBreaker:   "🔌",
	TypeRetry:     "🔁",
	TypeRateLimit: "🚦",
	TypeFallback:  "🪂",
	TypeCache:     "📦",
	TypeScheduler: "🎯",
	TypeStartup:   "🚀",
	TypeRequest:   "🌐",
	TypeAudit:     "📋",
	TypeSuccess:   "✅",
	TypeSlow:      "🐌",
	"cache_stats": "🧹",
}

// 没有 type 和 status 时按级别兜底
var levelEmoji = map[zapcore.Level]string{
	zapcore.DebugLevel:  "🐛",
	zapcore.InfoLevel:   "ℹ️",
	zapcore.WarnLevel:   "⚠️",
	zapcore.ErrorLevel:  "❌",
	zapcore.DPanicLevel: "❌",
	zapcore.PanicLevel:  "❌",
	zapcore.FatalLevel:  "❌",
}

func statusEmoji(status int) string {
	switch {
	case status >= 500:
		return "🔴"
	case status >= 400:
		return "🟠"
	case status >= 300:
		return "🟡"
	default:
		return "🟢"
	}
}

// EmojiConsoleEncoder 在控制台输出的消息前加表情前缀
// 优先级: status 字段 > type 字段 > 日志级别
type EmojiConsoleEncoder struct {
	zapcore.Encoder
}

func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if emoji := pickEmoji(entry.Level, fields); emoji != "" {
		entry.Message = emoji + " " + entry.Message
	}
	return enc.Encoder.EncodeEntry(entry, fields)
}

func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: enc.Encoder.Clone()}
}

func pickEmoji(level zapcore.Level, fields []zapcore.Field) string {
	var logType string
	for _, f := range fields {
		switch {
		case f.Key == "status" && (f.Type == zapcore.Int64Type || f.Type == zapcore.Int32Type) && f.Integer > 0:
			return statusEmoji(int(f.Integer))
		case f.Key == "type" && f.Type == zapcore.StringType:
			logType = f.String
		}
	}
	if e, ok := emojiMap[logType]; ok {
		return e
	}
	return levelEmoji[level]
}

// GetEmojiMap 返回 type 映射的副本
func GetEmojiMap() map[string]string {
	return maps.Clone(emojiMap)
}

// formatDuration 1ms / 150ms / 2.5s
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
