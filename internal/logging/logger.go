// Package logging provides leveled logging for Daybreak.
//
// Engines receive a *Logger explicitly; nothing in the engine reads the
// process environment to decide what to log. Two line formats exist: a
// human "text" format for terminals and a "json" format, one object per
// line, for log shippers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ansi is the terminal color for the level tag.
func (l Level) ansi() string {
	switch l {
	case DEBUG:
		return "\033[36m"
	case INFO:
		return "\033[32m"
	case WARN:
		return "\033[33m"
	case ERROR:
		return "\033[31m"
	default:
		return "\033[0m"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a config string to a Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Format selects the line encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat maps a config string to a Format. Anything but "json" is text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// Options configures a Logger.
type Options struct {
	Level  Level
	Format Format
	// Color only applies to the text format.
	Color bool
}

// sink is shared by a logger and every logger derived from it with
// WithFields, so lines from all of them serialize on one lock.
type sink struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
	json  *slog.Logger
	now   func() time.Time
}

// Logger writes leveled lines with attached key/value fields.
type Logger struct {
	level  Level
	sink   *sink
	fields map[string]interface{}
}

var defaultLogger = NewWithOptions(os.Stdout, Options{Level: INFO, Color: true})

// New creates a logger writing plain (uncolored) text lines to w.
func New(w io.Writer, level Level) *Logger {
	return NewWithOptions(w, Options{Level: level})
}

// NewWithOptions creates a logger writing to w.
func NewWithOptions(w io.Writer, opts Options) *Logger {
	s := &sink{out: w, color: opts.Color, now: time.Now}
	if opts.Format == FormatJSON {
		// Level filtering happens in Logger, so the handler accepts all.
		s.json = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return &Logger{level: opts.Level, sink: s}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, ERROR+1)
}

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger
}

// SetDefault replaces the process-wide logger used by the package functions.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// SetLevel sets the level of the process-wide logger.
func SetLevel(level Level) {
	defaultLogger.level = level
}

// Enabled reports whether a line at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.level
}

// WithField returns a child of the default logger carrying key.
func WithField(key string, value interface{}) *Logger {
	return defaultLogger.WithField(key, value)
}

// WithFields returns a child of the default logger carrying fields.
func WithFields(fields map[string]interface{}) *Logger {
	return defaultLogger.WithFields(fields)
}

// WithField returns a child logger carrying key.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a child logger carrying fields on top of the parent's.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	if l == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, sink: l.sink, fields: merged}
}

// sortedKeys keeps field order stable across lines.
func (l *Logger) sortedKeys() []string {
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	keys := l.sortedKeys()

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.json != nil {
		attrs := make([]slog.Attr, 0, len(keys))
		for _, k := range keys {
			attrs = append(attrs, slog.Any(k, l.fields[k]))
		}
		s.json.LogAttrs(context.Background(), level.slogLevel(), msg, attrs...)
		return
	}

	var b strings.Builder
	b.WriteString(s.now().Format("15:04:05"))
	if s.color {
		fmt.Fprintf(&b, " %s[%s]\033[0m ", level.ansi(), level)
	} else {
		fmt.Fprintf(&b, " [%s] ", level)
	}
	b.WriteString(msg)
	if len(keys) > 0 {
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
		}
	}
	b.WriteByte('\n')
	io.WriteString(s.out, b.String())
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) {
	defaultLogger.log(DEBUG, msg, args...)
}

// Info logs an info message
func Info(msg string, args ...interface{}) {
	defaultLogger.log(INFO, msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...interface{}) {
	defaultLogger.log(WARN, msg, args...)
}

// Error logs an error message
func Error(msg string, args ...interface{}) {
	defaultLogger.log(ERROR, msg, args...)
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }
