// Package logger provides the file-backed application logger.
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// MaxLogRetentionDays defines how long rotated logs are kept.
	MaxLogRetentionDays = 15

	// DefaultMaxSizeMB is the maximum size of a log file before rotation.
	DefaultMaxSizeMB = 100
)

// LogLevel represents logging levels.
type LogLevel string

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production
	DebugLevel LogLevel = "debug"
	// InfoLevel is the default logging priority
	InfoLevel LogLevel = "info"
	// WarnLevel logs are more important than Info, but don't need individual human review
	WarnLevel LogLevel = "warn"
	// ErrorLevel logs are high-priority
	ErrorLevel LogLevel = "error"
)

// Config holds the logger configuration options.
type Config struct {
	// LogLevel sets the minimum severity for logged messages
	LogLevel LogLevel
	// FilePath specifies where to write the log file
	FilePath string
	// MaxSizeMB is the maximum size in megabytes before rotation
	MaxSizeMB int
	// UseConsole determines if logs are also written to stdout
	UseConsole bool
}

// Logger wraps the zap logger functionality.
type Logger struct {
	zap *zap.Logger
	cfg Config
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(config Config) (*Logger, error) {
	if config.LogLevel == "" {
		config.LogLevel = InfoLevel
	}
	if config.MaxSizeMB == 0 {
		config.MaxSizeMB = DefaultMaxSizeMB
	}

	zl, err := buildZapLogger(config)
	if err != nil {
		return nil, err
	}

	return &Logger{zap: zl, cfg: config}, nil
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func buildZapLogger(config Config) (*zap.Logger, error) {
	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
			return nil, err
		}
	}

	level := zapcore.InfoLevel
	switch config.LogLevel {
	case DebugLevel:
		level = zapcore.DebugLevel
	case InfoLevel:
		level = zapcore.InfoLevel
	case WarnLevel:
		level = zapcore.WarnLevel
	case ErrorLevel:
		level = zapcore.ErrorLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var cores []zapcore.Core

	if config.FilePath != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename: config.FilePath,
			MaxSize:  config.MaxSizeMB,
			MaxAge:   MaxLogRetentionDays,
			Compress: true,
		})
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			fileWriter,
			level,
		))
	}

	if config.UseConsole {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

// Debug logs a message at debug level.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, fields...)
}

// Info logs a message at info level.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, fields...)
}

// Warn logs a message at warn level.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, fields...)
}

// Error logs a message at error level.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, fields...)
}

// WithField returns a logger with an attached field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zap: l.zap.With(zap.Any(key, value)), cfg: l.cfg}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
