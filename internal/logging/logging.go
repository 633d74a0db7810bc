package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a LOG_LEVEL value to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// LogContext provides context for log messages
type LogContext struct {
	RunID     string `json:"runId,omitempty"`
	JobID     string `json:"jobId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// JSONLogEntry represents a structured log entry for Cloud Foundry
type JSONLogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   *LogContext            `json:"context,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger provides leveled logging. Normal output goes to stdout, ERROR and
// FATAL to stderr. On Cloud Foundry every entry is a JSON line.
type Logger struct {
	debug  *log.Logger
	info   *log.Logger
	warn   *log.Logger
	error  *log.Logger
	fatal  *log.Logger
	out    io.Writer
	errOut io.Writer
	level  LogLevel
	isCF   bool
	mu     sync.Mutex
}

// App is the process-wide logger, set up by the entry points.
var App *Logger

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// New creates a logger configured from the environment.
func New() *Logger {
	l := NewWithWriters(os.Stdout, os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")))
	l.isCF = os.Getenv("VCAP_APPLICATION") != ""
	return l
}

// NewWithWriters creates a plain-text logger writing to the given streams.
func NewWithWriters(stdout, stderr io.Writer, level LogLevel) *Logger {
	flags := log.LstdFlags | log.Lshortfile
	return &Logger{
		debug:  log.New(stdout, "[DEBUG] ", flags),
		info:   log.New(stdout, "[INFO]  ", flags),
		warn:   log.New(stdout, "[WARN]  ", flags),
		error:  log.New(stderr, "[ERROR] ", flags),
		fatal:  log.New(stderr, "[FATAL] ", flags),
		out:    stdout,
		errOut: stderr,
		level:  level,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriters(io.Discard, io.Discard, FATAL+1)
}

// Default returns App when it is set, otherwise a lazily created
// environment-configured logger.
func Default() *Logger {
	if App != nil {
		return App
	}
	defaultOnce.Do(func() {
		defaultLog = New()
	})
	return defaultLog
}

// OrDefault returns l, or Default() when l is nil.
func OrDefault(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return Default()
}

// SetJSON switches between JSON lines and plain text output.
func (l *Logger) SetJSON(enabled bool) {
	l.isCF = enabled
}

func (l *Logger) enabled(level LogLevel) bool {
	return level >= l.level
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.emit(DEBUG, nil, nil, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.emit(INFO, nil, nil, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.emit(WARN, nil, nil, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.emit(ERROR, nil, nil, format, v...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.emit(FATAL, nil, nil, format, v...)
	os.Exit(1)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.emit(DEBUG, ctx, nil, format, v...)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.emit(INFO, ctx, nil, format, v...)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.emit(WARN, ctx, nil, format, v...)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.emit(ERROR, ctx, nil, format, v...)
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.emit(DEBUG, nil, fields, format, v...)
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.emit(INFO, nil, fields, format, v...)
}

// WarnWithFields logs a warning message with structured fields
func (l *Logger) WarnWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.emit(WARN, nil, fields, format, v...)
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.emit(ERROR, nil, fields, format, v...)
}

func (l *Logger) emit(level LogLevel, ctx *LogContext, fields map[string]interface{}, format string, v ...interface{}) {
	if !l.enabled(level) {
		return
	}
	if l.isCF {
		l.logJSON(level, format, ctx, fields, v...)
		return
	}
	line := l.formatContext(ctx) + fmt.Sprintf(format, v...) + l.formatFields(fields)
	// calldepth 3: emit <- Info/InfoWithContext <- caller
	switch level {
	case DEBUG:
		l.debug.Output(3, line)
	case INFO:
		l.info.Output(3, line)
	case WARN:
		l.warn.Output(3, line)
	case ERROR:
		l.error.Output(3, line)
	default:
		l.fatal.Output(3, line)
	}
}

// logJSON logs a structured JSON message for Cloud Foundry
func (l *Logger) logJSON(level LogLevel, format string, ctx *LogContext, fields map[string]interface{}, v ...interface{}) {
	message := format
	if len(v) > 0 {
		message = fmt.Sprintf(format, v...)
	}

	entry := JSONLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
		Context:   ctx,
		Fields:    fields,
	}

	output := l.out
	if level >= ERROR {
		output = l.errOut
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	sonic.ConfigDefault.NewEncoder(output).Encode(entry)
}

// formatContext formats context for human-readable logs
func (l *Logger) formatContext(ctx *LogContext) string {
	if ctx == nil {
		return ""
	}

	parts := []string{}
	if ctx.RunID != "" {
		parts = append(parts, fmt.Sprintf("[Run:%s]", ctx.RunID))
	}
	if ctx.JobID != "" {
		parts = append(parts, fmt.Sprintf("[Job:%s]", ctx.JobID))
	}
	if ctx.RequestID != "" {
		parts = append(parts, fmt.Sprintf("[Req:%s]", ctx.RequestID))
	}
	if ctx.Provider != "" {
		parts = append(parts, fmt.Sprintf("[Provider:%s]", ctx.Provider))
	}
	if ctx.Operation != "" {
		parts = append(parts, fmt.Sprintf("[Op:%s]", ctx.Operation))
	}

	if len(parts) > 0 {
		return strings.Join(parts, "") + " "
	}
	return ""
}

// formatFields renders fields in key order so lines are stable.
func (l *Logger) formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(" |")
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, fields[k])
	}
	return sb.String()
}

// WithContext returns a context logger for chaining
func (l *Logger) WithContext(ctx *LogContext) *ContextLogger {
	return &ContextLogger{
		logger: l,
		ctx:    ctx,
	}
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *Logger
	ctx    *LogContext
}

// Debug logs a debug message with the context
func (cl *ContextLogger) Debug(format string, v ...interface{}) {
	cl.logger.emit(DEBUG, cl.ctx, nil, format, v...)
}

// Info logs an info message with the context
func (cl *ContextLogger) Info(format string, v ...interface{}) {
	cl.logger.emit(INFO, cl.ctx, nil, format, v...)
}

// Warn logs a warning message with the context
func (cl *ContextLogger) Warn(format string, v ...interface{}) {
	cl.logger.emit(WARN, cl.ctx, nil, format, v...)
}

// Error logs an error message with the context
func (cl *ContextLogger) Error(format string, v ...interface{}) {
	cl.logger.emit(ERROR, cl.ctx, nil, format, v...)
}

// InfoWithFields logs an info message with context and fields
func (cl *ContextLogger) InfoWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	cl.logger.emit(INFO, cl.ctx, fields, format, v...)
}

// WarnWithFields logs a warning message with context and fields
func (cl *ContextLogger) WarnWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	cl.logger.emit(WARN, cl.ctx, fields, format, v...)
}

// ErrorWithFields logs an error message with context and fields
func (cl *ContextLogger) ErrorWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	cl.logger.emit(ERROR, cl.ctx, fields, format, v...)
}
