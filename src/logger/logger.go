package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"price-feed/src/models"
)

// -----------------------------------------------------------------------------

// Level is the numeric severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// -----------------------------------------------------------------------------

// Logger is a leveled, printf-style logger shared by every component.
type Logger struct {
	name  string
	level Level
	out   *log.Logger
	mu    sync.Mutex
}

// -----------------------------------------------------------------------------

// NewLogger creates a Logger whose minimum level comes from the config
// (debug/info/warning/error/critical, defaulting to info).
func NewLogger(config *models.MConfig, name string) *Logger {
	level := LevelInfo
	if config != nil {
		level = parseLevel(config.LogLevel)
	}
	return &Logger{
		name:  name,
		level: level,
		out:   log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// -----------------------------------------------------------------------------

func parseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug
	case "", "info":
		return LevelInfo
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	case "critical":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// -----------------------------------------------------------------------------

func (l *Logger) write(level Level, tag string, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("[%s] %s %s", tag, l.name, fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DBG", format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INF", format, args...)
}

// Warning logs a warning-level message.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.write(LevelWarning, "WRN", format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERR", format, args...)
}

// Critical logs a critical-level message.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.write(LevelCritical, "CRT", format, args...)
}
