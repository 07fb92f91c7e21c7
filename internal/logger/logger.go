// Package logger provides leveled structured logging.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// ParseLevel maps a config string to a Level. Unknown values yield InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides leveled logging.
type Logger struct {
	level  Level
	json   bool
	logger *log.Logger

	mu  sync.Mutex
	out io.Writer
}

var defaultLogger *Logger

// Init initializes the default logger with the specified level and format.
// Format "json" writes one JSON object per line; anything else writes text.
func Init(level string, format string) {
	InitWithWriter(level, format, os.Stderr)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(level string, format string, w io.Writer) {
	l := &Logger{level: ParseLevel(level), out: w}

	switch strings.ToLower(format) {
	case "json":
		l.json = true
	case "text":
		l.logger = log.New(w, "", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	default:
		l.logger = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
	}

	defaultLogger = l
}

type jsonLine struct {
	TS    string `json:"ts"`
	Level string `json:"level"`
	Scope string `json:"scope,omitempty"`
	Msg   string `json:"msg"`
}

func (l *Logger) emit(calldepth int, lvl Level, scope, format string, args ...interface{}) {
	if l == nil || lvl < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)

	if l.json {
		b, err := json.Marshal(jsonLine{
			TS:    time.Now().UTC().Format(time.RFC3339Nano),
			Level: strings.ToLower(lvl.String()),
			Scope: scope,
			Msg:   msg,
		})
		if err != nil {
			return
		}
		l.mu.Lock()
		_, _ = l.out.Write(append(b, '\n'))
		l.mu.Unlock()
		return
	}

	prefix := "[" + lvl.String() + "] "
	if scope != "" {
		prefix += "[" + scope + "] "
	}
	_ = l.logger.Output(calldepth+1, prefix+msg)
}

func Debug(format string, args ...interface{}) {
	defaultLogger.emit(2, DebugLevel, "", format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.emit(2, InfoLevel, "", format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.emit(2, WarnLevel, "", format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.emit(2, ErrorLevel, "", format, args...)
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.emit(2, FatalLevel, "", format, args...)
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}

// Scoped tags every message with a scope such as a city key.
type Scoped struct {
	scope string
}

// With returns a logger that tags messages with scope.
func With(scope string) Scoped {
	return Scoped{scope: scope}
}

func (s Scoped) Debug(format string, args ...interface{}) {
	defaultLogger.emit(2, DebugLevel, s.scope, format, args...)
}

func (s Scoped) Info(format string, args ...interface{}) {
	defaultLogger.emit(2, InfoLevel, s.scope, format, args...)
}

func (s Scoped) Warn(format string, args ...interface{}) {
	defaultLogger.emit(2, WarnLevel, s.scope, format, args...)
}

func (s Scoped) Error(format string, args ...interface{}) {
	defaultLogger.emit(2, ErrorLevel, s.scope, format, args...)
}
