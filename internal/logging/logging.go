package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// Level controls which messages a Logger emits
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
	}
	return "UNKNOWN"
}

// Field attaches structured context to a log message
type Field func(map[string]interface{})

// WithField attaches a single key/value pair
func WithField(key string, value interface{}) Field {
	return func(m map[string]interface{}) {
		m[key] = value
	}
}

// WithFields attaches multiple key/value pairs at once
func WithFields(fields map[string]interface{}) Field {
	return func(m map[string]interface{}) {
		for k, v := range fields {
			m[k] = v
		}
	}
}

// Logger is a leveled logger with structured fields
type Logger struct {
	mu    sync.Mutex
	level Level
	out   *log.Logger
}

// New creates a logger that writes to stderr at the given level
func New(level Level) *Logger {
	return &Logger{
		level: level,
		out:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.logAt(LevelDebug, msg, fields)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.logAt(LevelInfo, msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.logAt(LevelWarn, msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.logAt(LevelError, msg, fields)
}

func (l *Logger) logAt(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}

	merged := make(map[string]interface{})
	for _, f := range fields {
		f(merged)
	}

	var b strings.Builder
	b.WriteString("[" + level.String() + "] ")
	b.WriteString(msg)

	// Sorted keys so output is stable across runs
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, merged[k])
	}

	l.mu.Lock()
	l.out.Println(b.String())
	l.mu.Unlock()
}
