package iotmqtt

import (
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelNone disables all logging.
	LogLevelNone
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a case-insensitive level name. The empty string is info.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "off":
		return LogLevelNone, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

// LogFields represents key-value pairs for structured logging.
type LogFields map[string]any

// Logger defines the interface for logging.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields returns a new logger with the given fields added.
	WithFields(fields LogFields) Logger

	Level() LogLevel
	SetLevel(level LogLevel)
}

// NoOpLogger discards everything.
type NoOpLogger struct {
	level LogLevel
}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{level: LogLevelNone}
}

func (n *NoOpLogger) Debug(_ string, _ LogFields) {}
func (n *NoOpLogger) Info(_ string, _ LogFields)  {}
func (n *NoOpLogger) Warn(_ string, _ LogFields)  {}
func (n *NoOpLogger) Error(_ string, _ LogFields) {}

func (n *NoOpLogger) WithFields(_ LogFields) Logger { return n }
func (n *NoOpLogger) Level() LogLevel               { return n.level }
func (n *NoOpLogger) SetLevel(level LogLevel)       { n.level = level }

// levelHolder is shared between a logger and the loggers derived from it
// with WithFields, so SetLevel on the session logger reaches all of them.
type levelHolder struct {
	mu    sync.RWMutex
	level LogLevel
}

func (h *levelHolder) get() LogLevel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.level
}

func (h *levelHolder) set(level LogLevel) {
	h.mu.Lock()
	h.level = level
	h.mu.Unlock()
}

func mergeFields(base, extra LogFields) LogFields {
	out := make(LogFields, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

func formatFields(fields LogFields, paint func(format string, a ...any) string) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		b.WriteString(paint(" %s=%v", k, fields[k]))
	}
	return b.String()
}

// StdLogger writes plain lines through the standard log package.
type StdLogger struct {
	logger *log.Logger
	level  *levelHolder
	fields LogFields
}

// NewStdLogger creates a logger writing to w, or stderr when w is nil.
func NewStdLogger(w io.Writer, level LogLevel) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	return &StdLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  &levelHolder{level: level},
		fields: LogFields{},
	}
}

func (s *StdLogger) Debug(msg string, fields LogFields) { s.log(LogLevelDebug, msg, fields) }
func (s *StdLogger) Info(msg string, fields LogFields)  { s.log(LogLevelInfo, msg, fields) }
func (s *StdLogger) Warn(msg string, fields LogFields)  { s.log(LogLevelWarn, msg, fields) }
func (s *StdLogger) Error(msg string, fields LogFields) { s.log(LogLevelError, msg, fields) }

func (s *StdLogger) WithFields(fields LogFields) Logger {
	return &StdLogger{logger: s.logger, level: s.level, fields: mergeFields(s.fields, fields)}
}

func (s *StdLogger) Level() LogLevel         { return s.level.get() }
func (s *StdLogger) SetLevel(level LogLevel) { s.level.set(level) }

func (s *StdLogger) log(level LogLevel, msg string, fields LogFields) {
	if level < s.level.get() {
		return
	}
	s.logger.Printf("[%s] %s%s", level, msg, formatFields(mergeFields(s.fields, fields), fmt.Sprintf))
}

// ConsoleLogger writes colorized lines for interactive use. Color is
// disabled automatically when the output is not a terminal.
type ConsoleLogger struct {
	mu     *sync.Mutex
	w      io.Writer
	level  *levelHolder
	fields LogFields
	now    func() time.Time
}

// NewConsoleLogger creates a colorized logger writing to w, or to the
// color-aware stdout when w is nil.
func NewConsoleLogger(w io.Writer, level LogLevel) *ConsoleLogger {
	if w == nil {
		w = color.Output
	}
	return &ConsoleLogger{
		mu:     &sync.Mutex{},
		w:      w,
		level:  &levelHolder{level: level},
		fields: LogFields{},
		now:    time.Now,
	}
}

func (c *ConsoleLogger) Debug(msg string, fields LogFields) { c.log(LogLevelDebug, msg, fields) }
func (c *ConsoleLogger) Info(msg string, fields LogFields)  { c.log(LogLevelInfo, msg, fields) }
func (c *ConsoleLogger) Warn(msg string, fields LogFields)  { c.log(LogLevelWarn, msg, fields) }
func (c *ConsoleLogger) Error(msg string, fields LogFields) { c.log(LogLevelError, msg, fields) }

func (c *ConsoleLogger) WithFields(fields LogFields) Logger {
	return &ConsoleLogger{mu: c.mu, w: c.w, level: c.level, fields: mergeFields(c.fields, fields), now: c.now}
}

func (c *ConsoleLogger) Level() LogLevel         { return c.level.get() }
func (c *ConsoleLogger) SetLevel(level LogLevel) { c.level.set(level) }

func (c *ConsoleLogger) log(level LogLevel, msg string, fields LogFields) {
	if level < c.level.get() {
		return
	}

	name := level.String()
	switch level {
	case LogLevelDebug:
		name = color.MagentaString(name)
	case LogLevelInfo:
		name = color.BlueString(name)
	case LogLevelWarn:
		name = color.YellowString(name)
	case LogLevelError:
		name = color.RedString(name)
	}

	line := fmt.Sprintf("%s | %-5s | %s%s\n",
		color.GreenString(c.now().Format("2006-01-02T15:04:05")),
		name,
		color.CyanString(msg),
		formatFields(mergeFields(c.fields, fields), color.CyanString),
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.w, line)
}

// Standard field names.
const (
	LogFieldSessionID  = "session_id"
	LogFieldClientID   = "client_id"
	LogFieldEndpoint   = "endpoint"
	LogFieldState      = "state"
	LogFieldEvent      = "event"
	LogFieldTopic      = "topic"
	LogFieldPacketID   = "packet_id"
	LogFieldPacketType = "packet_type"
	LogFieldQoS        = "qos"
	LogFieldReturnCode = "return_code"
	LogFieldAttempt    = "attempt"
	LogFieldError      = "error"
	LogFieldDuration   = "duration"
	LogFieldBytes      = "bytes"
)
