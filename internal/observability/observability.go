// Package observability carries the logging and metrics contracts shared by
// the engine packages.
package observability

import (
	"context"
	"time"
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder observes the outcome of one operation. Status is a short label
// such as "committed", "conflict" or "rejected".
type Recorder interface {
	Observe(ctx context.Context, operation, status string, duration time.Duration)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NopLogger discards everything.
func NopLogger() Logger { return noopLogger{} }

type noopRecorder struct{}

func (noopRecorder) Observe(context.Context, string, string, time.Duration) {}

// NopRecorder discards every observation.
func NopRecorder() Recorder { return noopRecorder{} }

// LoggerOrNop returns l, or a discarding logger when l is nil.
func LoggerOrNop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}

// RecorderOrNop returns r, or a discarding recorder when r is nil.
func RecorderOrNop(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}
