// Package runlog provides the log sink a pipeline run writes to. The logger
// is created per run and passed explicitly into every stage and invocation;
// there is no package-level logger shared across runs.
package runlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger writes timestamped severity lines to a log file and, optionally,
// mirrors them to a console writer.
type Logger struct {
	mu      sync.Mutex
	file    io.WriteCloser
	console io.Writer // nil = file only
}

// Open creates (or appends to) the log file at path.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Logger{file: f}, nil
}

// New wraps an arbitrary writer; used by tests.
func New(w io.Writer) *Logger {
	return &Logger{file: nopCloser{w}}
}

// SetConsole mirrors log lines to w (typically os.Stderr).
func (l *Logger) SetConsole(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
}

// Info records an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write("INFO", format, args...)
}

// Warning records a warning.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.write("WARNING", format, args...)
}

// Error records an error.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("ERROR", format, args...)
}

func (l *Logger) write(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-8s %s\n",
		time.Now().Format("02-01-06 15:04:05"), level, fmt.Sprintf(format, args...))
	fmt.Fprint(l.file, line)
	if l.console != nil {
		fmt.Fprint(l.console, line)
	}
}

// Close closes the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
