// Package logging provides structured file logging for portalsync components.
// All components of one run write to a single run-specific file under
// ~/.portalsync/logs/, falling back to stderr when that is unavailable.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level controls which log entries are written.
type Level int

const (
	// LevelError writes errors only.
	LevelError Level = iota
	// LevelWarn adds warnings.
	LevelWarn
	// LevelInfo adds progress messages (the default).
	LevelInfo
	// LevelDebug adds per-row and per-click detail.
	LevelDebug
)

// ParseVerbosity maps a configured verbosity name to a Level.
// Unknown names fall back to LevelInfo.
func ParseVerbosity(verbosity string) Level {
	switch verbosity {
	case "quiet":
		return LevelError
	case "normal", "":
		return LevelInfo
	case "verbose", "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Logger writes levelled log entries for one component.
type Logger struct {
	runID     string
	component string
	level     Level
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	closeOnce sync.Once
}

var (
	// runID identifies the current execution; shared by all components.
	runID     string
	runIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error

	// defaultLevel applies to loggers created after SetVerbosity.
	levelMu      sync.Mutex
	defaultLevel = LevelInfo
)

// SetVerbosity sets the level used by loggers created afterwards.
func SetVerbosity(verbosity string) {
	levelMu.Lock()
	defer levelMu.Unlock()
	defaultLevel = ParseVerbosity(verbosity)
}

func currentLevel() Level {
	levelMu.Lock()
	defer levelMu.Unlock()
	return defaultLevel
}

func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		logDir = filepath.Join(homeDir, ".portalsync", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// NewLogger creates a logger for a component, writing to the shared run log
// file. If the file cannot be opened, a stderr logger is returned along with
// the error so callers can detect fallback mode.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("%s-portalsync.log", getRunID()))

	// Append mode: every component of the run shares the file.
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		runID:     getRunID(),
		component: component,
		level:     currentLevel(),
		file:      file,
		logger:    log.New(file, "", 0), // timestamps are formatted below
	}, nil
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{
		runID:     getRunID(),
		component: "nop",
		level:     LevelError,
		logger:    log.New(io.Discard, "", 0),
	}
}

func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	logger.Printf("WARNING: failed to initialize file logging: %v", err)

	return &Logger{
		runID:     getRunID(),
		component: component,
		level:     currentLevel(),
		logger:    logger,
	}
}

func (l *Logger) write(level Level, name, format string, v ...interface{}) {
	if level > l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, v...)
	l.logger.Printf("[%s] [%s] [%s] %s", timestamp, l.component, name, message)
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, v...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write(LevelInfo, "INFO", format, v...)
}

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write(LevelWarn, "WARN", format, v...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write(LevelError, "ERROR", format, v...)
}

// Close closes the underlying log file, if any.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
