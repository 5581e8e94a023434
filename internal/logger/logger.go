package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var (
	levelNames = map[LogLevel]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[LogLevel]string{
		DEBUG:  "\033[36m", // Cyan
		INFO:   "\033[32m", // Green
		WARN:   "\033[33m", // Yellow
		ERROR:  "\033[31m", // Red
		SILENT: "",
	}

	resetColor = "\033[0m"
)

// sink is one destination; colour is applied per sink so files stay plain.
type sink struct {
	logger   *log.Logger
	useColor bool
}

// Logger provides leveled logging with module support
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	sinks []sink
}

var defaultLogger *Logger
var once sync.Once

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	InitWithFile(level, output, useColor, nil)
}

// InitWithFile initializes the global logger with an extra plain-text file sink.
func InitWithFile(level LogLevel, output io.Writer, useColor bool, file io.Writer) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
		if file != nil {
			defaultLogger.AddOutput(file, false)
		}
	})
}

// New creates a new Logger instance
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	l := &Logger{level: level}
	l.AddOutput(output, useColor)
	return l
}

// AddOutput attaches another destination.
func (l *Logger) AddOutput(output io.Writer, useColor bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	l.sinks = append(l.sinks, sink{logger: log.New(output, "", flags), useColor: useColor})
}

// RotatingFile returns a size-rotated log file writer.
func RotatingFile(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	l.mu.Lock()
	currentLevel := l.level
	sinks := l.sinks
	l.mu.Unlock()

	if level < currentLevel || level >= SILENT {
		return
	}

	message := fmt.Sprintf(format, args...)
	for _, s := range sinks {
		prefix := fmt.Sprintf("[%s]", levelNames[level])
		if s.useColor {
			prefix = levelColors[level] + prefix + resetColor
		}
		if module != "" {
			prefix = fmt.Sprintf("%s [%s]", prefix, module)
		}
		s.logger.Printf("%s %s", prefix, message)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

// Package-level functions log through the logger set up by Init. Before Init
// they are no-ops, which keeps library packages quiet in tests.

func logDefault(level LogLevel, module string, format string, args []interface{}) {
	if defaultLogger != nil {
		defaultLogger.log(level, module, format, args...)
	}
}

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if defaultLogger != nil {
		return defaultLogger.GetLevel()
	}
	return INFO
}

func Debug(module string, format string, args ...interface{}) {
	logDefault(DEBUG, module, format, args)
}
func Info(module string, format string, args ...interface{}) { logDefault(INFO, module, format, args) }
func Warn(module string, format string, args ...interface{}) { logDefault(WARN, module, format, args) }
func Error(module string, format string, args ...interface{}) {
	logDefault(ERROR, module, format, args)
}

// ParseLevel parses a level name from a flag or LOG_LEVEL, ignoring case and
// surrounding space.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none", "off":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %q", s)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
