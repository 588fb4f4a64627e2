// Package logging provides the structured Logger interface used across s3db
// and a handful of concrete implementations.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface every s3db component accepts.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NoOpLogger discards everything. It is the default when no logger is wired.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, fields ...interface{}) {}
func (NoOpLogger) Info(msg string, fields ...interface{})  {}
func (NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (NoOpLogger) Error(msg string, fields ...interface{}) {}

// StdLogger is a dependency-free logger for scripts and tests.
type StdLogger struct {
	prefix string
}

// NewStdLogger creates a logger that writes key=value pairs to stderr.
func NewStdLogger(prefix string) *StdLogger {
	return &StdLogger{prefix: prefix}
}

func (l *StdLogger) Debug(msg string, fields ...interface{}) { l.log("DEBUG", msg, fields...) }
func (l *StdLogger) Info(msg string, fields ...interface{})  { l.log("INFO", msg, fields...) }
func (l *StdLogger) Warn(msg string, fields ...interface{})  { l.log("WARN", msg, fields...) }
func (l *StdLogger) Error(msg string, fields ...interface{}) { l.log("ERROR", msg, fields...) }

func (l *StdLogger) log(level, msg string, fields ...interface{}) {
	var b strings.Builder
	b.WriteString(l.prefix)
	b.WriteString(" [")
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	fmt.Fprintln(os.Stderr, b.String())
}

// ZapLogger adapts go.uber.org/zap to the Logger interface.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap.Logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: l.Sugar()}
}

// NewFromEnv builds a ZapLogger honoring S3DB_LOG_LEVEL and S3DB_LOG_FORMAT
// (pretty|json), as described in spec.md §6.
func NewFromEnv() (*ZapLogger, error) {
	level := zapcore.InfoLevel
	if lv := os.Getenv("S3DB_LOG_LEVEL"); lv != "" {
		_ = level.Set(strings.ToLower(lv))
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if strings.ToLower(os.Getenv("S3DB_LOG_FORMAT")) == "pretty" {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l), nil
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) { l.logger.Debugw(msg, fields...) }
func (l *ZapLogger) Info(msg string, fields ...interface{})  { l.logger.Infow(msg, fields...) }
func (l *ZapLogger) Warn(msg string, fields ...interface{})  { l.logger.Warnw(msg, fields...) }
func (l *ZapLogger) Error(msg string, fields ...interface{}) { l.logger.Errorw(msg, fields...) }

// Sync flushes buffered log entries. Call before process exit.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
