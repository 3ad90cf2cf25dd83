package observability

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Arpitray/commerce/internal/platform/requestctx"
)

const defaultLogLevel = "info"

type loggerSettings struct {
	level   string
	console bool
}

// LoggerOption adjusts NewLogger.
type LoggerOption func(*loggerSettings)

// WithLevel overrides LOG_LEVEL. Unknown levels fall back to info.
func WithLevel(level string) LoggerOption {
	return func(s *loggerSettings) {
		if level = strings.TrimSpace(level); level != "" {
			s.level = level
		}
	}
}

// WithConsoleOutput writes human-readable lines to stderr, which keeps stdout clean for CLI
// output.
func WithConsoleOutput() LoggerOption {
	return func(s *loggerSettings) { s.console = true }
}

// NewLogger builds a JSON logger whose keys match what Cloud Logging parses (severity, message,
// timestamp).
func NewLogger(opts ...LoggerOption) (*zap.Logger, error) {
	settings := loggerSettings{level: os.Getenv("LOG_LEVEL")}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(settings.level)))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	cfg := zap.Config{
		Level:    level,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			TimeKey:        "timestamp",
			LevelKey:       "severity",
			NameKey:        "logger",
			CallerKey:      "caller",
			StacktraceKey:  "stacktrace",
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	if settings.console {
		cfg.Encoding = "console"
		cfg.OutputPaths = []string{"stderr"}
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	}
	return cfg.Build()
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext retrieves the logger from context, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// ServiceLogger adapts zap to the event logger signature used by the services layer. Events are
// written through the request-scoped logger when the context carries one, so request ids and
// trace ids follow service events.
func ServiceLogger(base *zap.Logger) func(context.Context, string, map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if ctx != nil {
			if scoped := requestctx.Logger(ctx); scoped != requestctx.NoopLogger() {
				logger = scoped
			}
		}
		zfields := make([]zap.Field, 0, len(fields)+1)
		zfields = append(zfields, zap.String("event", event))
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			zfields = append(zfields, toField(key, fields[key]))
		}
		if _, failed := fields["error"]; failed || strings.HasSuffix(event, "_failed") {
			logger.Warn(event, zfields...)
			return
		}
		logger.Info(event, zfields...)
	}
}

func toField(key string, value any) zap.Field {
	switch v := value.(type) {
	case string:
		return zap.String(key, v)
	case int:
		return zap.Int(key, v)
	case bool:
		return zap.Bool(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
