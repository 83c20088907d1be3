// Package logger is the process-wide debug log. Step outcomes go to the
// report step log; this file records what the backends and pollers did.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	globalLogger *slog.Logger
	logFile      *os.File
	level        = new(slog.LevelVar)
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return nil
}

// InitWriter sends log output to w instead of a file. Used by tests and
// by --log-file=- to log to stderr.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = nil
}

// SetLevel sets the minimum level: debug, info, warn or error.
func SetLevel(name string) error {
	switch strings.ToLower(name) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info", "":
		level.Set(slog.LevelInfo)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}

func logf(lvl slog.Level, format string, v ...interface{}) {
	mu.Lock()
	l := globalLogger
	mu.Unlock()

	if l != nil {
		l.Log(context.Background(), lvl, fmt.Sprintf(format, v...))
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) { logf(slog.LevelInfo, format, v...) }

// Debug logs a debug message.
func Debug(format string, v ...interface{}) { logf(slog.LevelDebug, format, v...) }

// Error logs an error message.
func Error(format string, v ...interface{}) { logf(slog.LevelError, format, v...) }

// Warn logs a warning message.
func Warn(format string, v ...interface{}) { logf(slog.LevelWarn, format, v...) }

// Slog returns the underlying structured logger, or a discarding one before Init.
func Slog() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		return globalLogger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// GetWriter returns the underlying writer for use by drivers.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
