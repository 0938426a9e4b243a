package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Logger provides leveled logging with verbose mode support.
// Verbose mode forces debug level regardless of the configured level.
type Logger struct {
	mu      sync.RWMutex
	verbose bool
	level   log.Level
	logger  *log.Logger
}

var (
	loggerInstance *Logger
	once           sync.Once
)

// GetLogger returns the singleton logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		loggerInstance = newLogger(os.Stderr, log.InfoLevel, log.TextFormatter)
	})
	return loggerInstance
}

func newLogger(w io.Writer, level log.Level, formatter log.Formatter) *Logger {
	return &Logger{
		level: level,
		logger: log.NewWithOptions(w, log.Options{
			Level:     level,
			Formatter: formatter,
			Prefix:    "focuslist",
		}),
	}
}

// SetVerboseMode sets the verbose mode globally.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// ConfigureLogger applies level and format names ("debug", "json", ...)
// and the output writer to the global logger. A nil writer keeps stderr.
func ConfigureLogger(level, format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	l := GetLogger()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.level = ParseLogLevel(level)
	l.logger = log.NewWithOptions(w, log.Options{
		Level:     l.level,
		Formatter: ParseLogFormatter(format),
		Prefix:    "focuslist",
	})
	if l.verbose {
		l.logger.SetLevel(log.DebugLevel)
	}
}

// SetOutput redirects the global logger, e.g. away from a running TUI.
func SetOutput(w io.Writer) {
	l := GetLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.SetOutput(w)
}

// SetVerbose sets the verbose mode for this logger instance.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
	if verbose {
		l.logger.SetLevel(log.DebugLevel)
	} else {
		l.logger.SetLevel(l.level)
	}
}

// IsVerbose returns whether verbose mode is enabled.
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

func (l *Logger) base() *log.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

// formatMessage formats a message with optional printf-style arguments.
func formatMessage(msgOrFormat string, args ...interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msgOrFormat, args...)
	}
	return msgOrFormat
}

// Debug logs a debug message (shown at debug level or in verbose mode).
func (l *Logger) Debug(msgOrFormat string, args ...interface{}) {
	l.base().Debug(formatMessage(msgOrFormat, args...))
}

// Info logs an info message.
func (l *Logger) Info(msgOrFormat string, args ...interface{}) {
	l.base().Info(formatMessage(msgOrFormat, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(msgOrFormat string, args ...interface{}) {
	l.base().Warn(formatMessage(msgOrFormat, args...))
}

// Error logs an error message.
func (l *Logger) Error(msgOrFormat string, args ...interface{}) {
	l.base().Error(formatMessage(msgOrFormat, args...))
}

// Debugf is a convenience function that logs a debug message using the global logger.
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof is a convenience function that logs an info message using the global logger.
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf is a convenience function that logs a warning message using the global logger.
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf is a convenience function that logs an error message using the global logger.
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// ParseLogLevel parses a level name. Unknown names fall back to info.
func ParseLogLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ParseLogFormatter parses a formatter name. Unknown names fall back to text.
func ParseLogFormatter(format string) log.Formatter {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}
