package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes leveled, timestamped lines to stderr and, when configured,
// mirrors them into a log file. Progress output owns stdout, so diagnostics
// stay on stderr.
type Logger struct {
	out   *log.Logger
	file  *log.Logger
	level Level
}

// New creates a logger. filePath may be empty to disable the file sink.
func New(level Level, filePath string) (*Logger, error) {
	l := &Logger{
		out:   log.New(os.Stderr, "", 0),
		level: level,
	}

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = log.New(f, "", 0)
	}

	return l, nil
}

// NewWriter builds a logger over an arbitrary writer, for tests.
func NewWriter(w io.Writer, level Level) *Logger {
	return &Logger{out: log.New(w, "", 0), level: level}
}

func (l *Logger) log(lvl Level, prefix, format string, v ...any) {
	if lvl < l.level {
		return
	}

	msg := fmt.Sprintf("%s [%s] %s",
		time.Now().Format("2006-01-02 15:04:05"), prefix, fmt.Sprintf(format, v...))

	l.out.Println(msg)
	if l.file != nil {
		l.file.Println(msg)
	}
}

func (l *Logger) Debug(f string, v ...any) { l.log(LevelDebug, "DEBUG", f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.log(LevelInfo, "INFO", f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.log(LevelWarn, "WARN", f, v...) }
func (l *Logger) Error(f string, v ...any) { l.log(LevelError, "ERROR", f, v...) }
