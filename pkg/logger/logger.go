package logger

import (
	"context"
)

type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Fatal(msg string, keysAndValues ...any)
}

type noOpLogger struct{}

func (n *noOpLogger) Debug(msg string, keysAndValues ...any) {}
func (n *noOpLogger) Info(msg string, keysAndValues ...any)  {}
func (n *noOpLogger) Warn(msg string, keysAndValues ...any)  {}
func (n *noOpLogger) Error(msg string, keysAndValues ...any) {}
func (n *noOpLogger) Fatal(msg string, keysAndValues ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &noOpLogger{}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

type contextKey string

const loggerKey contextKey = "logger"

func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return Nop()
}
