// Package xlog provides the small structured logger used across flexshm.
package xlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

var levelColors = map[Level]string{
	Debug: "\033[36m",
	Info:  "\033[32m",
	Warn:  "\033[33m",
	Error: "\033[31m",
}

const colorReset = "\033[0m"

// Logger is a minimal leveled, component-tagged logger.
type Logger struct {
	mu         sync.Mutex
	level      Level
	component  string
	output     io.Writer
	colorize   bool
	timeFormat string
}

// Config configures a Logger.
type Config struct {
	Level      Level
	Component  string
	Output     io.Writer
	Colorize   bool
	TimeFormat string
}

// New creates a logger from the given config, filling in defaults.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "15:04:05.000"
	}
	return &Logger{
		level:      cfg.Level,
		component:  cfg.Component,
		output:     cfg.Output,
		colorize:   cfg.Colorize,
		timeFormat: cfg.TimeFormat,
	}
}

// Default returns a logger with sensible defaults for the named component.
func Default(component string) *Logger {
	return New(Config{
		Level:      Info,
		Component:  component,
		Output:     os.Stdout,
		Colorize:   true,
		TimeFormat: "15:04:05.000",
	})
}

// With returns a logger scoped to a sub-component, sharing output settings.
func (l *Logger) With(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.component
	if c != "" {
		c = c + "." + component
	} else {
		c = component
	}
	return &Logger{
		level:      l.level,
		component:  c,
		output:     l.output,
		colorize:   l.colorize,
		timeFormat: l.timeFormat,
	}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(Debug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(Info, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(Warn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(Error, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	var b strings.Builder
	if l.colorize {
		b.WriteString(levelColors[level])
	}
	b.WriteString("[")
	b.WriteString(time.Now().Format(l.timeFormat))
	b.WriteString("] [")
	b.WriteString(fmt.Sprintf("%-5s", levelNames[level]))
	b.WriteString("] ")
	if l.component != "" {
		b.WriteString("[")
		b.WriteString(l.component)
		b.WriteString("] ")
	}
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteString(" ")
		b.WriteString(f.Key)
		b.WriteString("=")
		b.WriteString(f.format())
	}
	if l.colorize {
		b.WriteString(colorReset)
	}
	b.WriteString("\n")
	_, _ = l.output.Write([]byte(b.String()))
}

// Field is a key/value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

func (f Field) format() string {
	switch v := f.Value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case error:
		return fmt.Sprintf("%q", v.Error())
	case time.Duration:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func String(key, value string) Field       { return Field{Key: key, Value: value} }
func Int(key string, value int) Field      { return Field{Key: key, Value: value} }
func Uint32(key string, value uint32) Field { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field    { return Field{Key: key, Value: value} }
func Err(err error) Field                  { return Field{Key: "error", Value: err} }
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger = Default("flexshm")

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) { defaultLogger = l }

// Default-logger convenience wrappers.
func DebugD(msg string, fields ...Field) { defaultLogger.Debug(msg, fields...) }
func InfoD(msg string, fields ...Field)  { defaultLogger.Info(msg, fields...) }
func WarnD(msg string, fields ...Field)  { defaultLogger.Warn(msg, fields...) }
func ErrorD(msg string, fields ...Field) { defaultLogger.Error(msg, fields...) }
