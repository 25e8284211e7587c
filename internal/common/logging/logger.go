package logging

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// serviceName tags every record written by the process logger
const serviceName = "agent-triggers"

var (
	defaultLogger Logger
	defaultMu     sync.RWMutex
	defaultOnce   sync.Once
)

// Default returns the process logger used by main before components are wired.
// Components receive their logger through constructors instead.
func Default() Logger {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		defer defaultMu.Unlock()
		if defaultLogger == nil {
			l, err := NewZapLogger(LogConfig{Level: zapcore.InfoLevel})
			if err != nil {
				panic(fmt.Sprintf("failed to initialize default logger: %v", err))
			}
			defaultLogger = l
		}
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process logger
func SetDefault(logger Logger) {
	defaultOnce.Do(func() {})
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// New builds a logger from a level name and an optional log file path.
// An empty path logs to stdout.
func New(level, file string, json bool) (Logger, error) {
	config := LogConfig{Level: ParseLevel(level), JSON: json, Service: serviceName}

	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", file, err)
		}
		config.Output = f
	}

	return NewZapLogger(config)
}

// Sync flushes the logger if it buffers
func Sync(logger Logger) {
	if z, ok := logger.(*ZapAdapter); ok {
		_ = z.Sync()
	}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Time creates a time field
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field with key "error"
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
