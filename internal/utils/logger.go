package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes leveled, timestamped entries to a log file and to stderr.
type Logger struct {
	writeFile *os.File
	zl        zerolog.Logger
}

// NewLogger opens the given log file for appending. If the file cannot be
// opened, entries go to stderr only.
func NewLogger(logFile string) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}

	logger := &Logger{}
	if logFile == "" {
		logger.zl = zerolog.New(console).With().Timestamp().Logger()
		return logger
	}

	_ = os.MkdirAll(filepath.Dir(logFile), 0o755)
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.zl = zerolog.New(console).With().Timestamp().Logger()
		logger.zl.Warn().Err(err).Str("path", logFile).Msg("error opening log file, logging to stderr only")
		return logger
	}
	logger.writeFile = f
	logger.zl = zerolog.New(zerolog.MultiLevelWriter(console, f)).With().Timestamp().Logger()
	return logger
}

// NewWriterLogger logs JSON lines to w; used by tests and tools.
func NewWriterLogger(w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// SetLevel filters entries below level.
func (l *Logger) SetLevel(level zerolog.Level) {
	if l == nil {
		return
	}
	l.zl = l.zl.Level(level)
}

// Write appends an info-level message.
func (l *Logger) Write(message string) {
	if l == nil {
		return
	}
	l.zl.Info().Msg(message)
}

// Writef is Write with formatting.
func (l *Logger) Writef(format string, args ...interface{}) {
	l.Write(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug() *zerolog.Event { return l.event(zerolog.DebugLevel) }
func (l *Logger) Info() *zerolog.Event  { return l.event(zerolog.InfoLevel) }
func (l *Logger) Warn() *zerolog.Event  { return l.event(zerolog.WarnLevel) }
func (l *Logger) Error() *zerolog.Event { return l.event(zerolog.ErrorLevel) }

// event returns a disabled (nil) event for a nil logger so call chains stay nil-safe.
func (l *Logger) event(level zerolog.Level) *zerolog.Event {
	if l == nil {
		return nil
	}
	return l.zl.WithLevel(level)
}

// Close flushes and closes the underlying file handle.
func (l *Logger) Close() {
	if l != nil && l.writeFile != nil {
		l.writeFile.Sync()
		l.writeFile.Close()
	}
}

// File returns the underlying write file handle when available.
func (l *Logger) File() *os.File {
	if l == nil {
		return nil
	}
	return l.writeFile
}
