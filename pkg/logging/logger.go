// Package logging provides the solver's structured logging: leveled
// slog output with configurable format and destination, shared across
// components through a process-wide default that main sets once at
// startup.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config represents logging configuration.
type Config struct {
	Level     slog.Level `json:"level"`
	Format    string     `json:"format"` // "json" or "text"
	Output    string     `json:"output"` // "stdout", "stderr", or file path
	AddSource bool       `json:"add_source"`
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  slog.LevelInfo,
		Format: "text",
		Output: "stdout",
	}
}

// Logger wraps slog.Logger with solver-specific helpers.
type Logger struct {
	*slog.Logger
	config *Config
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer
	switch config.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		output = file
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}, nil
}

// With returns a logger with additional key/value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithComponent returns a logger with component information.
func (l *Logger) WithComponent(component string) *Logger {
	return l.With("component", component)
}

// WithChain returns a logger scoped to one chain id.
func (l *Logger) WithChain(chainID uint64) *Logger {
	return l.With("chain_id", chainID)
}

// WithOrder returns a logger scoped to one order id.
func (l *Logger) WithOrder(orderID string) *Logger {
	return l.With("order_id", orderID)
}

// WithError returns a logger with error information. Errors that carry
// a classification code (a Code() string method) get it as a structured
// attribute alongside the message.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	args := []any{"error", err.Error()}
	if coded, ok := err.(interface{ Code() string }); ok {
		args = append(args, "error_code", coded.Code())
	}
	return l.With(args...)
}

// Fatal logs at error level and exits.
func (l *Logger) Fatal(msg string, args ...any) {
	l.Error(msg, args...)
	os.Exit(1)
}

// ParseLevel parses a log level string.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown log level: %s", level)
	}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// SetDefault sets the process-wide logger components fall back to when
// none is injected.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Default returns the process-wide logger, creating a text/stdout one
// on first use if SetDefault was never called.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger, _ = NewLogger(DefaultConfig())
	}
	return defaultLogger
}
