// Package logger provides level-gated, column-formatted logging for the
// kavach gateway and its components.
//
// Each entry is written as a single line with fixed-width columns:
//
//	2006-01-02 15:04:05.000 | MODULE       | ACTION                 | LEVEL | message
//
// Lines emitted through a request-scoped logger carry the request ID in front
// of the message:
//
//	2006-01-02 15:04:05.000 | GATEWAY      | sanitize               | INFO  | [9f1c…] masked 3 entities
//
// Levels (lowest to highest): debug, info, warn, error.
// Entries below the configured minimum level are silently dropped.
//
// Usage:
//
//	log := logger.New("MASKING", cfg.LogLevel)
//	log.Infof("mask", "session=%s minted=%d", sessionID, n)
//	log.WithRequest(id).Errorf("sanitize", "mask failed: %v", err)
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level represents a log severity.
type Level int32

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota // fine-grained diagnostic output
	LevelInfo               // normal operational messages
	LevelWarn               // unexpected but recoverable conditions
	LevelError              // failures requiring attention
)

// Logger writes structured log lines for a single module.
// A Logger is safe for concurrent use; SetLevel may be called at runtime.
type Logger struct {
	module    string
	requestID string
	level     *atomic.Int32 // shared with children created by Named/WithRequest
	out       *log.Logger
}

// New creates a Logger for the given module writing to stderr, gated at the
// given level string. Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	return NewWithWriter(module, levelStr, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(module, levelStr string, w io.Writer) *Logger {
	lvl := new(atomic.Int32)
	lvl.Store(int32(parseLevel(levelStr)))
	return &Logger{
		module: strings.ToUpper(module),
		level:  lvl,
		// No prefix or flags; we supply the full line ourselves.
		out: log.New(w, "", 0),
	}
}

// Named returns a logger for another module that shares this logger's
// output and level.
func (l *Logger) Named(module string) *Logger {
	c := *l
	c.module = strings.ToUpper(module)
	return &c
}

// WithRequest returns a logger that prefixes every message with the given
// request ID. An empty ID returns l unchanged.
func (l *Logger) WithRequest(id string) *Logger {
	if id == "" {
		return l
	}
	c := *l
	c.requestID = id
	return &c
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.level.Store(int32(parseLevel(levelStr)))
}

// Enabled reports whether entries at the given level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= Level(l.level.Load())
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, "DEBUG", action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, "INFO ", action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, "WARN ", action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, "ERROR", action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	if !l.Enabled(LevelDebug) {
		return
	}
	l.Debug(action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// Fatalf logs a formatted message at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// write emits one log line if level >= the configured level.
func (l *Logger) write(level Level, levelLabel, action, msg string) {
	if !l.Enabled(level) {
		return
	}
	if l.requestID != "" {
		msg = "[" + l.requestID + "] " + msg
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("%s | %-12s | %-22s | %s | %s", ts, l.module, action, levelLabel, msg)
}

// parseLevel converts a string to a Level, defaulting to LevelInfo.
func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
