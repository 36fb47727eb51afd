package logger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu sync.RWMutex

	// base is handed out by Get and WithContext; helpers log through
	// wrapped, which skips their own frame when reporting the caller.
	base    *zap.Logger
	wrapped *zap.Logger
)

// Init initializes the global logger. Unknown levels fall back to info.
// Output goes to stderr in both modes.
func Init(level string, environment string) error {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	if environment == "development" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	l, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("env", environment)),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	Set(l)
	return nil
}

// Get returns the global logger, or a development logger before Init
func Get() *zap.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l == nil {
		l, _ = zap.NewDevelopment()
	}
	return l
}

// Set replaces the global logger. Tests use it with zap.NewNop() or an observer core.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	wrapped = l.WithOptions(zap.AddCallerSkip(1))
}

func helper() *zap.Logger {
	mu.RLock()
	l := wrapped
	mu.RUnlock()
	if l == nil {
		return Get().WithOptions(zap.AddCallerSkip(1))
	}
	return l
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if base != nil {
		return base.Sync()
	}
	return nil
}

// WithContext returns a logger with the run and trace fields carried by ctx
func WithContext(ctx context.Context) *zap.Logger {
	logger := Get()
	if runID := GetRunID(ctx); runID != "" {
		logger = logger.With(zap.String("run_id", runID))
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		logger = logger.With(zap.String("trace_id", traceID))
	}
	return logger
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	helper().Debug(msg, fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	helper().Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	helper().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	helper().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	helper().Fatal(msg, fields...)
}

// String returns a zap.Field for a string
func String(key, value string) zap.Field {
	return zap.String(key, value)
}

// Strings returns a zap.Field for a string slice
func Strings(key string, value []string) zap.Field {
	return zap.Strings(key, value)
}

// Int returns a zap.Field for an int
func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// Bool returns a zap.Field for a bool
func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

// Duration returns a zap.Field for a time.Duration
func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}

// ErrorField returns a zap.Field for an error
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// Any returns a zap.Field for any value
func Any(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}

// Symbol tags an entry with a ticker symbol
func Symbol(symbol string) zap.Field {
	return zap.String("symbol", symbol)
}

// BatchID tags an entry with a scan batch ID
func BatchID(id string) zap.Field {
	return zap.String("batch_id", id)
}

// NewRunID generates an identifier for one screening run
func NewRunID() string {
	return uuid.NewString()
}

// NewTraceID generates an identifier for one inbound request
func NewTraceID() string {
	return uuid.NewString()
}
