package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogFormat defines the output format for logs
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// LogEntry represents a complete log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// StructuredLogger provides structured logging with levels and context fields
type StructuredLogger struct {
	mu            sync.Mutex
	level         LogLevel
	output        io.Writer
	format        LogFormat
	contextFields map[string]interface{}
}

// StructuredLoggerConfig holds configuration for the logger
type StructuredLoggerConfig struct {
	Level  LogLevel
	Output io.Writer
	Format LogFormat
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:  INFO,
		Output: os.Stdout,
		Format: FormatText,
	}
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config *StructuredLoggerConfig) *StructuredLogger {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}
	return &StructuredLogger{
		level:         config.Level,
		output:        config.Output,
		format:        config.Format,
		contextFields: make(map[string]interface{}),
	}
}

// WithField returns a new logger with an additional context field
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	fields := make(map[string]interface{}, len(sl.contextFields)+1)
	for k, v := range sl.contextFields {
		fields[k] = v
	}
	fields[key] = value

	return &StructuredLogger{
		level:         sl.level,
		output:        sl.output,
		format:        sl.format,
		contextFields: fields,
	}
}

// WithComponent returns a logger with a component field
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return sl.WithField("component", component)
}

// SetLevel sets the log level
func (sl *StructuredLogger) SetLevel(level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.level = level
}

// GetLevel returns the current log level
func (sl *StructuredLogger) GetLevel() LogLevel {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.level
}

func (sl *StructuredLogger) log(level LogLevel, message string, fields map[string]interface{}) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if level < sl.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
	}
	if len(sl.contextFields) > 0 || len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(sl.contextFields)+len(fields))
		for k, v := range sl.contextFields {
			entry.Fields[k] = v
		}
		for k, v := range fields {
			entry.Fields[k] = v
		}
	}

	var output string
	if sl.format == FormatJSON {
		if jsonBytes, err := json.Marshal(entry); err == nil {
			output = string(jsonBytes) + "\n"
		} else {
			output = formatText(entry)
		}
	} else {
		output = formatText(entry)
	}

	_, _ = sl.output.Write([]byte(output))
}

func formatText(entry LogEntry) string {
	s := entry.Timestamp.Format("2006-01-02 15:04:05.000") + " [" + entry.Level + "] " + entry.Message
	if len(entry.Fields) > 0 {
		s += " {"
		first := true
		for k, v := range entry.Fields {
			if !first {
				s += ", "
			}
			first = false
			s += fmt.Sprintf("%s=%v", k, v)
		}
		s += "}"
	}
	return s + "\n"
}

// Trace logs a trace message with optional fields
func (sl *StructuredLogger) Trace(message string, fields ...map[string]interface{}) {
	sl.log(TRACE, message, firstOrNil(fields))
}

// Debug logs a debug message with optional fields
func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.log(DEBUG, message, firstOrNil(fields))
}

// Info logs an info message with optional fields
func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.log(INFO, message, firstOrNil(fields))
}

// Warn logs a warning message with optional fields
func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.log(WARN, message, firstOrNil(fields))
}

// Error logs an error message with optional fields
func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.log(ERROR, message, firstOrNil(fields))
}

// Tracef logs a formatted trace message
func (sl *StructuredLogger) Tracef(format string, args ...interface{}) {
	sl.log(TRACE, fmt.Sprintf(format, args...), nil)
}

// Debugf logs a formatted debug message
func (sl *StructuredLogger) Debugf(format string, args ...interface{}) {
	sl.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message
func (sl *StructuredLogger) Infof(format string, args ...interface{}) {
	sl.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (sl *StructuredLogger) Warnf(format string, args ...interface{}) {
	sl.log(WARN, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (sl *StructuredLogger) Errorf(format string, args ...interface{}) {
	sl.log(ERROR, fmt.Sprintf(format, args...), nil)
}

func firstOrNil(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

var (
	defaultLogger     *StructuredLogger
	defaultLoggerOnce sync.Once
)

// DefaultLogger returns the process-wide logger, initialized on first use
// from the BRIDGEFS_LOG_LEVEL and BRIDGEFS_LOG_FORMAT environment variables.
func DefaultLogger() *StructuredLogger {
	defaultLoggerOnce.Do(func() {
		config := DefaultStructuredLoggerConfig()
		if level := os.Getenv("BRIDGEFS_LOG_LEVEL"); level != "" {
			if parsed, err := ParseLogLevel(level); err == nil {
				config.Level = parsed
			}
		}
		if os.Getenv("BRIDGEFS_LOG_FORMAT") == "json" {
			config.Format = FormatJSON
		}
		defaultLogger = NewStructuredLogger(config)
	})
	return defaultLogger
}
