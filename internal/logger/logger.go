package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	// LevelDebug is the most verbose logging level
	LevelDebug Level = iota
	// LevelInfo logs informational messages
	LevelInfo
	// LevelWarn logs warnings
	LevelWarn
	// LevelError logs errors
	LevelError
	// LevelNone disables all logging
	LevelNone
)

// String returns string representation of log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "info", "INFO":
		return LevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "none", "NONE":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger provides structured logging capabilities
type Logger struct {
	mu       sync.RWMutex
	level    Level
	logger   *log.Logger
	prefix   string
	file     *os.File
	disabled bool
}

var (
	globalLogger *Logger
	once         sync.Once
)

// OversizedSink receives every Warn/Error record so a caller can capture
// the ones whose fields are abnormally large. internal/audit.OversizedCapture
// implements this; the interface lives here rather than in internal/audit
// because internal/audit already imports internal/logger, and a Logger ->
// audit import would cycle back.
type OversizedSink interface {
	Capture(sessionID, level string, fields map[string]string) error
}

var (
	sinkMu        sync.RWMutex
	oversizedSink OversizedSink
)

// SetOversizedSink installs the process-wide oversized-capture hook that
// every subsequent Warn/Error call feeds through. Pass nil to disable it
// (the default).
func SetOversizedSink(s OversizedSink) {
	sinkMu.Lock()
	oversizedSink = s
	sinkMu.Unlock()
}

// Init initializes the global logger. An empty logPath means "stderr" —
// unlike a one-shot CLI, a proxy server has no terminal session to fall
// silent into, so the zero-config default is a live writer, not discard.
func Init(level Level, logPath string) error {
	var err error
	once.Do(func() {
		globalLogger, err = New(level, logPath, "")
	})
	return err
}

// InitWriter initializes the global logger against an arbitrary
// io.Writer, bypassing file handling entirely. Used by tests and by
// callers embedding Lynkr that already own their own log sink.
func InitWriter(level Level, w io.Writer) {
	once.Do(func() {
		globalLogger = NewWriter(level, w, "")
	})
}

// New creates a new Logger instance. An empty logPath logs to stderr.
func New(level Level, logPath string, prefix string) (*Logger, error) {
	if level == LevelNone {
		return NewWriter(level, io.Discard, prefix), nil
	}

	if logPath == "" {
		return NewWriter(level, os.Stderr, prefix), nil
	}

	// Ensure log directory exists
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open log file in append mode
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWriter(level, file, prefix)
	l.file = file
	return l, nil
}

// NewWriter creates a Logger that writes directly to w.
func NewWriter(level Level, w io.Writer, prefix string) *Logger {
	return &Logger{
		level:    level,
		prefix:   prefix,
		logger:   log.New(w, "", 0),
		disabled: level == LevelNone,
	}
}

// Global returns the global logger instance
func Global() *Logger {
	if globalLogger == nil {
		// Create a default logger that writes to discard if not initialized
		globalLogger = &Logger{
			level:    LevelNone,
			logger:   log.New(io.Discard, "", 0),
			disabled: true,
		}
	}
	return globalLogger
}

// WithPrefix creates a new logger with an additional prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + ":" + prefix
	}

	return &Logger{
		level:    l.level,
		logger:   l.logger,
		prefix:   newPrefix,
		file:     l.file,
		disabled: l.disabled,
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// log is the internal logging function
func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.disabled || level < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)

	prefix := l.prefix
	if prefix != "" {
		prefix = "[" + prefix + "] "
	}

	logLine := fmt.Sprintf("%s [%s] %s%s", timestamp, level.String(), prefix, msg)
	l.logger.Println(logLine)

	if level >= LevelWarn {
		captureOversized(l.prefix, level, msg)
	}
}

// captureOversized feeds a Warn/Error record through the installed
// OversizedSink, if any. The sink owns deciding whether any field is
// actually oversized; a logger with no prefix (process-wide calls that
// aren't scoped to a request) groups under "global".
func captureOversized(prefix string, level Level, msg string) {
	sinkMu.RLock()
	sink := oversizedSink
	sinkMu.RUnlock()
	if sink == nil {
		return
	}
	sessionID := prefix
	if sessionID == "" {
		sessionID = "global"
	}
	if err := sink.Capture(sessionID, level.String(), map[string]string{"message": msg}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: oversized capture failed: %v\n", err)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Close closes the logger and its underlying file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// WithPrefix returns a logger scoped under the global logger with the
// given prefix, for packages that want a named sub-logger without
// managing their own Logger lifecycle.
func WithPrefix(prefix string) *Logger {
	return Global().WithPrefix(prefix)
}

// Global logging functions for convenience

// Debug logs a debug message using the global logger
func Debug(format string, args ...interface{}) {
	Global().Debug(format, args...)
}

// Info logs an informational message using the global logger
func Info(format string, args ...interface{}) {
	Global().Info(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(format string, args ...interface{}) {
	Global().Warn(format, args...)
}

// Error logs an error message using the global logger
func Error(format string, args ...interface{}) {
	Global().Error(format, args...)
}
