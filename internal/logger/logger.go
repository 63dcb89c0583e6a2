// Package logger wraps a global zerolog logger.
// The TUI owns the terminal, so logs are normally written to a file.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var log = zerolog.Nop()

// Init configures the global logger with the given level and writer.
// level can be: "debug", "info", "warn", "error", "disabled".
// A nil writer discards all output.
func Init(level string, w io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = io.Discard
	}

	log = zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// InitFile opens (or creates) path for appending and logs into it.
// The returned closer must be closed on shutdown.
func InitFile(level, path string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	Init(level, f)
	return f, nil
}

// InitConsole logs human-friendly lines to stderr, for non-interactive commands.
func InitConsole(level string) {
	Init(level, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// --- Convenience functions ---

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
