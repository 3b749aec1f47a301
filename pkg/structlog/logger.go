// Package structlog provides leveled JSON line logging with per-logger base
// fields, shared by the feed-coherence packages.
package structlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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
	default:
		return "UNKNOWN"
	}
}

// Fields represents structured log fields
type Fields map[string]interface{}

// Logger writes one JSON object per entry.
type Logger struct {
	component string
	level     Level
	output    io.Writer
	mu        sync.Mutex
	fields    Fields
}

// NewLogger creates a logger for a component. A nil output defaults to
// stdout.
func NewLogger(component string, level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{component: component, level: level, output: output, fields: Fields{}}
}

// WithFields returns a logger with additional base fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{component: l.component, level: l.level, output: l.output, fields: merged}
}

func (l *Logger) log(level Level, msg string, fields Fields) {
	if level < l.level {
		return
	}
	entry := make(Fields, len(l.fields)+len(fields)+4)
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["component"] = l.component
	entry["msg"] = msg

	line, err := json.Marshal(entry)
	if err != nil {
		line = []byte(fmt.Sprintf(`{"level":"ERROR","component":%q,"msg":"log marshal failed"}`, l.component))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write(append(line, '\n'))
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields Fields) { l.log(LevelDebug, msg, fields) }

// Info logs at info level.
func (l *Logger) Info(msg string, fields Fields) { l.log(LevelInfo, msg, fields) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields Fields) { l.log(LevelWarn, msg, fields) }

// Error logs at error level.
func (l *Logger) Error(msg string, fields Fields) { l.log(LevelError, msg, fields) }
