// Package logging provides structured logging for lifeops.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
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

func (l Level) Color() string {
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

// ParseLevel maps a config string to a Level. Unknown strings yield INFO
// and an error so callers can warn about the typo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Format selects the line encoding
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// sink is shared by a logger and every logger derived from it, so that
// SetLevel/SetOutput on the root reach component loggers too.
type sink struct {
	mu     sync.Mutex
	level  Level
	format Format
	output io.Writer
	now    func() time.Time
}

// Logger is a structured logger
type Logger struct {
	sink   *sink
	fields map[string]interface{}
}

var defaultLogger = New(os.Stdout, INFO)

// New creates a root logger writing to w.
func New(w io.Writer, level Level) *Logger {
	return &Logger{
		sink:   &sink{level: level, output: w, now: time.Now},
		fields: map[string]interface{}{},
	}
}

// Default returns the process-wide logger
func Default() *Logger { return defaultLogger }

// SetLevel sets the global log level
func SetLevel(level Level) {
	defaultLogger.sink.mu.Lock()
	defaultLogger.sink.level = level
	defaultLogger.sink.mu.Unlock()
}

// SetOutput sets the output writer
func SetOutput(w io.Writer) {
	defaultLogger.sink.mu.Lock()
	defaultLogger.sink.output = w
	defaultLogger.sink.mu.Unlock()
}

// SetFormat switches the global logger between text and JSON lines
func SetFormat(f Format) {
	defaultLogger.sink.mu.Lock()
	defaultLogger.sink.format = f
	defaultLogger.sink.mu.Unlock()
}

// For returns a logger tagged with a component name
func For(component string) *Logger {
	return defaultLogger.WithField("component", component)
}

// WithField returns a logger with a field added
func WithField(key string, value interface{}) *Logger {
	return defaultLogger.WithField(key, value)
}

// WithFields returns a logger with multiple fields added
func WithFields(fields map[string]interface{}) *Logger {
	return defaultLogger.WithFields(fields)
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields adds multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{sink: l.sink, fields: merged}
}

// WithError attaches err under the "error" field
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.level {
		return
	}

	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}
	now := s.now()

	if s.format == FormatJSON {
		line := make(map[string]interface{}, len(l.fields)+3)
		for k, v := range l.fields {
			line[k] = v
		}
		line["ts"] = now.UTC().Format(time.RFC3339Nano)
		line["level"] = level.String()
		line["msg"] = formatted
		data, err := json.Marshal(line)
		if err != nil {
			data = []byte(fmt.Sprintf(`{"level":"ERROR","msg":"unencodable log line: %v"}`, err))
		}
		fmt.Fprintln(s.output, string(data))
		return
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	if len(keys) > 0 {
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
		}
	}

	fmt.Fprintf(s.output, "%s %s[%s]\033[0m %s%s\n",
		now.Format("15:04:05"), level.Color(), level.String(), formatted, b.String())
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

// Logger methods
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }
