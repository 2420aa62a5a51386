package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// LogLevel names a minimum severity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLevel converts a configuration string into a LogLevel.
// Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn, "warning":
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SlogLogger implements Logger on top of log/slog with a JSON handler.
type SlogLogger struct {
	inner *slog.Logger
}

// NewSlogLogger creates a JSON logger writing to w. Records below level are dropped.
// Timestamps are rendered in tz; a nil tz keeps the local zone.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) *SlogLogger {
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if tz != nil && len(groups) == 0 && a.Key == slog.TimeKey {
				a.Value = slog.TimeValue(a.Value.Time().In(tz))
			}
			return a
		},
	}
	return &SlogLogger{inner: slog.New(slog.NewJSONHandler(w, opts))}
}

func (l *SlogLogger) Debug(msg string, fields ...Field) {
	l.log(slog.LevelDebug, msg, fields)
}

func (l *SlogLogger) Info(msg string, fields ...Field) {
	l.log(slog.LevelInfo, msg, fields)
}

func (l *SlogLogger) Warn(msg string, fields ...Field) {
	l.log(slog.LevelWarn, msg, fields)
}

func (l *SlogLogger) Error(msg string, fields ...Field) {
	l.log(slog.LevelError, msg, fields)
}

// With returns a child logger carrying fields on every record.
func (l *SlogLogger) With(fields ...Field) Logger {
	return &SlogLogger{inner: l.inner.With(toArgs(fields)...)}
}

// Module returns a child logger tagged with the subsystem name.
func (l *SlogLogger) Module(name string) Logger {
	return &SlogLogger{inner: l.inner.With(slog.String("module", name))}
}

func (l *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.inner.Enabled(ctx, level) {
		return
	}
	l.inner.LogAttrs(ctx, level, msg, toAttrs(fields)...)
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

func toArgs(fields []Field) []any {
	args := make([]any, 0, len(fields))
	for _, a := range toAttrs(fields) {
		args = append(args, a)
	}
	return args
}
