// Package logging writes structured JSON log lines to daily-rotated files.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a log severity level
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

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel converts a config value such as "debug" into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field, written as <key>_ms in milliseconds
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field under the "cause" key, for errors that are
// context rather than the subject of an Error line
func Err(err error) Field {
	return Field{Key: "cause", Value: err}
}

// Logger handles structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	// With returns a logger that adds fields to every line.
	With(fields ...Field) Logger
	Close() error
}

// Config configures the logger
type Config struct {
	// LogDir is the directory where log files are stored (default: ~/.callsched/logs)
	LogDir string
	// Prefix is the log file prefix (e.g., "callsched" produces callsched-YYYY-MM-DD.log)
	Prefix string
	// RetentionDays is the number of days to retain old log files (default: 30)
	RetentionDays int
	// Component is written as the "component" field of every line
	Component string
	// MinLevel is the minimum log level to write (default: LevelInfo)
	MinLevel Level
	// Console, when set, receives a human-readable copy of every line
	Console io.Writer
	// minLevelSet tracks whether MinLevel was explicitly configured
	minLevelSet bool
}

// WithMinLevel returns a copy of Config with the specified minimum log level
func (c Config) WithMinLevel(level Level) Config {
	c.MinLevel = level
	c.minLevelSet = true
	return c
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		LogDir:        filepath.Join(homeDir, ".callsched", "logs"),
		Prefix:        DefaultPrefix,
		RetentionDays: 30,
		MinLevel:      LevelInfo,
	}
}

// DefaultPrefix is the file prefix used when Config.Prefix is empty.
const DefaultPrefix = "callsched"

// FileLogger implements Logger on top of zerolog with daily file rotation
type FileLogger struct {
	zl  zerolog.Logger
	out *rotatingFile
}

// New creates a new FileLogger with the given configuration
func New(config Config) (*FileLogger, error) {
	if config.LogDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		config.LogDir = filepath.Join(homeDir, ".callsched", "logs")
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 30
	}
	if !config.minLevelSet && config.MinLevel == 0 {
		config.MinLevel = LevelInfo
	}

	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	out := &rotatingFile{dir: config.LogDir, prefix: config.Prefix}
	if err := out.rotateIfNeeded(); err != nil {
		return nil, err
	}

	var w io.Writer = out
	if config.Console != nil {
		w = zerolog.MultiLevelWriter(out, zerolog.ConsoleWriter{
			Out:        config.Console,
			TimeFormat: time.Kitchen,
		})
	}

	zl := zerolog.New(w).Level(config.MinLevel.zerolog())
	if config.Component != "" {
		zl = zl.With().Str("component", config.Component).Logger()
	}

	logger := &FileLogger{zl: zl, out: out}

	if err := out.cleanOldLogs(config.RetentionDays); err != nil {
		logger.Error("failed to clean old logs", err)
	}

	return logger, nil
}

// Debug logs a debug message
func (l *FileLogger) Debug(msg string, fields ...Field) {
	l.write(l.zl.Debug(), msg, fields)
}

// Info logs an informational message
func (l *FileLogger) Info(msg string, fields ...Field) {
	l.write(l.zl.Info(), msg, fields)
}

// Warn logs a warning
func (l *FileLogger) Warn(msg string, fields ...Field) {
	l.write(l.zl.Warn(), msg, fields)
}

// Error logs an error message
func (l *FileLogger) Error(msg string, err error, fields ...Field) {
	e := l.zl.Error()
	if err != nil {
		e = e.Err(err)
	}
	l.write(e, msg, fields)
}

// With returns a logger sharing the same file that adds fields to every line
func (l *FileLogger) With(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, fieldValue(f.Value))
	}
	return &FileLogger{zl: ctx.Logger(), out: l.out}
}

// WithComponent returns a new logger with the specified component name
func (l *FileLogger) WithComponent(component string) *FileLogger {
	return &FileLogger{
		zl:  l.zl.With().Str("component", component).Logger(),
		out: l.out,
	}
}

// Close closes the underlying file. Loggers derived with With or
// WithComponent share the file and must not be used afterwards.
func (l *FileLogger) Close() error {
	return l.out.Close()
}

// LogPath returns the path to the current log file
func (l *FileLogger) LogPath() string {
	return l.out.path()
}

func (l *FileLogger) write(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	e = e.Time(zerolog.TimestampFieldName, time.Now().UTC())
	for _, f := range fields {
		e = addField(e, f)
	}
	e.Msg(msg)
}

func addField(e *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return e.Str(f.Key, v)
	case int:
		return e.Int(f.Key, v)
	case int64:
		return e.Int64(f.Key, v)
	case float64:
		return e.Float64(f.Key, v)
	case bool:
		return e.Bool(f.Key, v)
	case time.Duration:
		return e.Int64(f.Key+"_ms", v.Milliseconds())
	case error:
		return e.AnErr(f.Key, v)
	default:
		return e.Interface(f.Key, v)
	}
}

func fieldValue(v any) any {
	if d, ok := v.(time.Duration); ok {
		return d.String()
	}
	return v
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field)        {}
func (nopLogger) Info(string, ...Field)         {}
func (nopLogger) Warn(string, ...Field)         {}
func (nopLogger) Error(string, error, ...Field) {}
func (n nopLogger) With(...Field) Logger        { return n }
func (nopLogger) Close() error                  { return nil }
