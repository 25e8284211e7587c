// Package logging is the structured logger every component receives through
// its constructor. Records are encoded by zap.
package logging

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Field is one structured key/value pair
type Field struct {
	Key   string
	Value interface{}
}

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// LogConfig selects level, sink and encoding
type LogConfig struct {
	Level zapcore.Level
	// Output defaults to stdout
	Output io.Writer
	JSON   bool
	// Service is attached to every record when set
	Service string
}

// ParseLevel maps DEBUG, INFO, WARN (or WARNING) and ERROR onto zap levels.
// Anything else is INFO.
func ParseLevel(levelStr string) zapcore.Level {
	name := strings.ToLower(strings.TrimSpace(levelStr))
	if name == "warning" {
		name = "warn"
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil || level > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return level
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	subjectKey   contextKey = "subject"
)

// ContextWithRequestID attaches a request id that WithContext will log
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithSubject attaches the authenticated subject that WithContext will log
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// RequestIDFromContext returns the request id stored on ctx, if any
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func contextFields(ctx context.Context) []Field {
	var fields []Field
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, String("request_id", id))
	}
	if subject, ok := ctx.Value(subjectKey).(string); ok && subject != "" {
		fields = append(fields, String("subject", subject))
	}
	return fields
}
