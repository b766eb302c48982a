// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 初始化全局的 zerolog Logger。
// 所有服务在启动时调用一次，之后通过 zlog 或 Ctx 使用。
func Init(serviceName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if lv, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		level = lv
	}
	zlog.Logger = zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// WithTrace 基于当前 Span 上下文派生一个带 trace_id 的 logger，并放入 context。
// 消费侧用 zlog.Ctx(ctx) 取回，保证每条日志都能关联到链路。
func WithTrace(ctx context.Context) context.Context {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return zlog.Logger.WithContext(ctx)
	}
	l := zlog.With().Str("trace_id", spanCtx.TraceID().String()).Logger()
	return l.WithContext(ctx)
}

// Ctx 是 zlog.Ctx 的简单转发，省一个 import。
func Ctx(ctx context.Context) *zerolog.Logger {
	return zlog.Ctx(ctx)
}
