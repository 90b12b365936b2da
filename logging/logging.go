// Package logging provides the run logger with an explicit lifecycle: it is
// constructed once before training starts, optionally teed to a log file,
// and closed when the process ends.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger writes timestamped run output to stderr and, when attached, a file
type Logger struct {
	*log.Logger
	file *os.File
}

// New creates a logger writing to stderr with the given name prefix
func New(name string) *Logger {
	return &Logger{
		Logger: log.New(os.Stderr, fmt.Sprintf("[%s] ", name), log.LstdFlags),
	}
}

// AddFile tees all subsequent output to the given file path, appending if it
// exists. Only one file may be attached.
func (l *Logger) AddFile(path string) error {
	if l.file != nil {
		return fmt.Errorf("log file already attached")
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = file
	l.SetOutput(io.MultiWriter(os.Stderr, file))
	return nil
}

// Close releases the attached log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.SetOutput(os.Stderr)
	return err
}
