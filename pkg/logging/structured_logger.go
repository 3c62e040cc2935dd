// Package logging provides structured logging setup for the service.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds configuration for the structured logger
type Config struct {
	Level       LogLevel `json:"level"`
	Format      string   `json:"format"` // "json" or "text"
	ServiceName string   `json:"service_name"`
	Version     string   `json:"version"`
	Environment string   `json:"environment"`
	AddSource   bool     `json:"add_source"`
	TimeFormat  string   `json:"time_format"`
}

// StructuredLogger wraps slog with service-level context. Components derive
// their own loggers with slog.Default().With("component", ...).
type StructuredLogger struct {
	*slog.Logger
	serviceName    string
	serviceVersion string
	environment    string
}

// NewStructuredLogger creates a new structured logger instance
func NewStructuredLogger(config Config) *StructuredLogger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(config.Level),
		AddSource: config.AddSource,
	}

	if config.TimeFormat != "" {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   slog.TimeKey,
					Value: slog.StringValue(a.Value.Time().Format(config.TimeFormat)),
				}
			}
			return a
		}
	}

	var handler slog.Handler
	switch strings.ToLower(config.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		"service", config.ServiceName,
		"version", config.Version,
		"environment", config.Environment,
	)

	return &StructuredLogger{
		Logger:         logger,
		serviceName:    config.ServiceName,
		serviceVersion: config.Version,
		environment:    config.Environment,
	}
}

// WithComponent creates a logger with a specific component context
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return &StructuredLogger{
		Logger:         sl.Logger.With("component", component),
		serviceName:    sl.serviceName,
		serviceVersion: sl.serviceVersion,
		environment:    sl.environment,
	}
}

// SetAsDefault installs this logger as the process-wide slog default so
// components that derive from slog.Default() inherit the handler.
func (sl *StructuredLogger) SetAsDefault() {
	slog.SetDefault(sl.Logger)
}

// LogOperation logs the outcome of a named operation with its duration.
func (sl *StructuredLogger) LogOperation(operation string, duration time.Duration, err error, args ...any) {
	attrs := append([]any{"operation", operation, "duration", duration}, args...)
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		sl.Logger.Error("operation failed", attrs...)
		return
	}
	sl.Logger.Info("operation completed", attrs...)
}

func parseLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
