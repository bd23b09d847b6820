package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Fields is an alias so callers don't need to import logrus directly.
type Fields = logrus.Fields

var (
	mu           sync.RWMutex
	currentLevel = INFO
	base         = newBase()
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return l
}

// Options controls the backend of the package-level logger.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	Output string // stdout|stderr|<file path>
	MaxAge int    // days to keep rotated files
}

// Configure swaps the output and formatter. File outputs are rotated by lumberjack.
func Configure(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(opts.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	base.SetOutput(outputFor(opts))
	if opts.Level != "" {
		currentLevel = parseLevel(opts.Level)
	}
}

func outputFor(opts Options) io.Writer {
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 7
	}
	return &lumberjack.Logger{
		Filename: opts.Output,
		MaxSize:  100,
		MaxAge:   maxAge,
		Compress: true,
	}
}

// SetOutput redirects log output; mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base.SetOutput(w)
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	mu.Lock()
	currentLevel = level
	mu.Unlock()
}

// SetLogLevelFromString sets the global log level from a string
func SetLogLevelFromString(levelStr string) {
	SetLogLevel(parseLevel(levelStr))
}

func parseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// GetLogLevel returns the current log level
func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

func enabled(level LogLevel) bool {
	return GetLogLevel() <= level
}

// WithFields returns a structured entry; level filtering still applies through the Debug..Error helpers only.
func WithFields(fields Fields) *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	return base.WithFields(fields)
}

// WithComponent tags an entry with the emitting component.
func WithComponent(component string) *logrus.Entry {
	return WithFields(Fields{"component": component})
}

// Debug logs a debug message if debug level is enabled
func Debug(format string, v ...interface{}) {
	if enabled(DEBUG) {
		base.Debugf(format, v...)
	}
}

// Info logs an info message if info level is enabled
func Info(format string, v ...interface{}) {
	if enabled(INFO) {
		base.Infof(format, v...)
	}
}

// Warn logs a warning message if warn level is enabled
func Warn(format string, v ...interface{}) {
	if enabled(WARN) {
		base.Warnf(format, v...)
	}
}

// Error logs an error message if error level is enabled
func Error(format string, v ...interface{}) {
	if enabled(ERROR) {
		base.Errorf(format, v...)
	}
}

// Debugf is an alias for Debug for consistency
func Debugf(format string, v ...interface{}) {
	Debug(format, v...)
}

// Infof is an alias for Info for consistency
func Infof(format string, v ...interface{}) {
	Info(format, v...)
}

// Warnf is an alias for Warn for consistency
func Warnf(format string, v ...interface{}) {
	Warn(format, v...)
}

// Errorf is an alias for Error for consistency
func Errorf(format string, v ...interface{}) {
	Error(format, v...)
}
