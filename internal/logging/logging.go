package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel is a message severity. Higher values are more severe.
type LogLevel int

// Levels in increasing severity.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

var (
	threshold atomic.Int32
	fromEnv   sync.Once

	sinkMu sync.Mutex
	sink   io.Writer = os.Stderr
)

func envLevel() LogLevel {
	switch strings.ToLower(os.Getenv("DEBUG")) {
	case "1", "true", "yes", "on":
		return LevelDebug
	}
	level, _ := ParseLevel(os.Getenv("LOG_LEVEL"))
	return level
}

// ParseLevel maps a level name (case-insensitive, "warning" accepted) to a
// LogLevel. Unknown names return LevelInfo and false.
func ParseLevel(s string) (LogLevel, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn, true
	}
	for level, name := range levelNames {
		if s == name {
			return LogLevel(level), true
		}
	}
	return LevelInfo, false
}

// SetLevel replaces the level taken from LOG_LEVEL and DEBUG.
func SetLevel(level LogLevel) {
	fromEnv.Do(func() {})
	threshold.Store(int32(level))
}

// GetLevel returns the active level, reading the environment on first use.
func GetLevel() LogLevel {
	fromEnv.Do(func() { threshold.Store(int32(envLevel())) })
	return LogLevel(threshold.Load())
}

// SetOutput sends every subsequent line to w.
func SetOutput(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
	log.SetOutput(w)
}

// Output returns the writer set by SetOutput, stderr by default.
func Output() io.Writer {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	return sink
}

// IsDebugEnabled reports whether Debug lines are written.
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

func logf(level LogLevel, format string, args []interface{}) {
	if GetLevel() > level {
		return
	}
	log.Printf("["+strings.ToUpper(level.String())+"] "+format, args...)
}

// Debug logs per-item detail.
func Debug(format string, args ...interface{}) { logf(LevelDebug, format, args) }

// Info logs lifecycle events.
func Info(format string, args ...interface{}) { logf(LevelInfo, format, args) }

// Warn logs recoverable failures.
func Warn(format string, args ...interface{}) { logf(LevelWarn, format, args) }

// Error logs failures of a whole operation.
func Error(format string, args ...interface{}) { logf(LevelError, format, args) }

// Fatal logs regardless of level and exits with status 1.
func Fatal(format string, args ...interface{}) {
	log.Fatalf("[FATAL] "+format, args...)
}

func (l LogLevel) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("unknown(%d)", l)
}
