package log

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"InsightRelay/internal/conf"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "InsightRelay"

// 日志文件滚动参数
const (
	fileMaxSizeMB  = 100
	fileMaxAgeDays = 7
	fileMaxBackups = 7
)

// NewZapLogger 按配置构建 zap logger
// 标准输出只接收 error 以下级别，error 及以上写到标准错误；配置了 output_file 时再写一份到滚动文件
func NewZapLogger(cfg *conf.Log) (*zap.Logger, error) {
	if cfg == nil {
		return nil, errors.New("log config is nil")
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	encoder := newEncoder(cfg)
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= level && l < zapcore.ErrorLevel
		})),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapcore.ErrorLevel),
	}
	if cfg.OutputFile != "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    fileMaxSizeMB,
			MaxAge:     fileMaxAgeDays,
			MaxBackups: fileMaxBackups,
			Compress:   true,
		}), level))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", serviceName)),
	), nil
}

// newEncoder 开发环境或 console 格式使用带表情的控制台编码，其余输出 JSON
func newEncoder(cfg *conf.Log) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if !consoleOutput(cfg) {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("[2006-01-02 15:04:05]"))
	}
	return NewEmojiConsoleEncoder(ec)
}

func consoleOutput(cfg *conf.Log) bool {
	return strings.EqualFold(cfg.Format, "console") || strings.EqualFold(cfg.Env, "development")
}
