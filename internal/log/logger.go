package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with component scoping.
type Logger struct {
	*slog.Logger
}

type Config struct {
	Level     slog.Level
	Component string
	Output    io.Writer
	Handler   slog.Handler
}

func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Component: ComponentApp,
		Output:    os.Stdout,
	}
}

// New builds a text handler logger unless cfg.Handler is provided.
func New(cfg Config) *Logger {
	handler := cfg.Handler
	if handler == nil {
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.Level})
	}

	component := cfg.Component
	if component == "" {
		component = ComponentApp
	}

	return &Logger{Logger: slog.New(handler).With(FieldComponent, component)}
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithComponent returns a logger whose records carry a different component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(FieldComponent, component)}
}

// SetDefault installs logger as the slog default.
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}

type contextKey string

const loggerContextKey contextKey = "logger"

// IntoContext stores logger in ctx.
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext returns the logger stored in ctx, or one wrapping the slog
// default.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default()}
}
