package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// A LogLevel controls how chatty the transport is.
type LogLevel uint8

const (
	// LogLevelNothing disables logging
	LogLevelNothing LogLevel = iota
	// LogLevelError logs failures only
	LogLevelError
	// LogLevelInfo additionally logs connection life cycle events
	LogLevelInfo
	// LogLevelDebug additionally logs every packet
	LogLevelDebug
)

// logEnv selects the level at startup. It accepts the numeric levels as well
// as their names: "error", "info", "debug".
const logEnv = "QUIVY_LOG_LEVEL"

var logger = struct {
	mutex      sync.Mutex
	level      LogLevel
	timeFormat string
	out        io.Writer
}{
	level: levelFromEnv(),
	out:   os.Stderr,
}

// SetLogLevel sets the log level
func SetLogLevel(level LogLevel) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.level = level
}

// SetLogTimeFormat sets the format of the timestamp.
// An empty string disables timestamps.
func SetLogTimeFormat(format string) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.timeFormat = format
}

// SetLogWriter redirects the output, which goes to stderr by default
func SetLogWriter(w io.Writer) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.out = w
}

// Debugf logs packet-level detail
func Debugf(format string, args ...interface{}) {
	logf(LogLevelDebug, format, args...)
}

// Infof logs connection life cycle events
func Infof(format string, args ...interface{}) {
	logf(LogLevelInfo, format, args...)
}

// Errorf logs failures
func Errorf(format string, args ...interface{}) {
	logf(LogLevelError, format, args...)
}

func logf(level LogLevel, format string, args ...interface{}) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	if logger.level < level {
		return
	}
	line := fmt.Sprintf(format, args...)
	if logger.timeFormat != "" {
		line = time.Now().Format(logger.timeFormat) + " " + line
	}
	fmt.Fprintln(logger.out, line)
}

// Debug returns true if packet-level detail is being logged
func Debug() bool {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	return logger.level == LogLevelDebug
}

func levelFromEnv() LogLevel {
	switch strings.ToLower(os.Getenv(logEnv)) {
	case "1", "error":
		return LogLevelError
	case "2", "info":
		return LogLevelInfo
	case "3", "debug":
		return LogLevelDebug
	default:
		return LogLevelNothing
	}
}
