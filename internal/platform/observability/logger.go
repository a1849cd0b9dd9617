package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dingdong-ecommerce/api/internal/platform/requestctx"
)

// NewLogger builds the JSON logger used by the service. LOG_LEVEL selects the level (info by default).
func NewLogger() (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
			level.SetLevel(zapcore.InfoLevel)
		}
	}

	cfg := zap.Config{
		Level:    level,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
			EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(strings.ToUpper(l.String()))
			},
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// FromContext returns the request logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// PrintfAdapter exposes a zap logger through the Printf interface expected by
// the auth and idempotency packages.
type PrintfAdapter struct {
	sugar *zap.SugaredLogger
}

// NewPrintfAdapter wraps logger.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{sugar: logger.Sugar()}
}

// Printf implements Printf style logging.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.sugar.Infof(format, args...)
}

// ServiceLogger adapts zap to the func(ctx, event, fields) hook accepted by services.
// The request logger from ctx wins over base when present.
func ServiceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		zf := make([]zap.Field, 0, len(fields)+1)
		zf = append(zf, zap.String("event", event))
		for k, v := range fields {
			zf = append(zf, zap.Any(k, v))
		}
		if strings.HasSuffix(event, ".failed") || strings.HasSuffix(event, ".error") {
			logger.Warn(event, zf...)
			return
		}
		logger.Info(event, zf...)
	}
}
