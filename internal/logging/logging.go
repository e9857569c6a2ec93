// Package logging sets up structured slog logging for tx802mcp.
//
// Logs always go to stderr or a file. Stdout carries the MCP stdio
// transport and JSON voice dumps, so nothing may be logged there.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Level represents a logging level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the output format for logs.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Config configures a logger.
type Config struct {
	Level  Level
	Format Format
	// FilePath, when set, appends logs to that file instead of stderr.
	FilePath string
	// Output overrides the destination, mainly for tests.
	Output io.Writer
}

// DefaultConfig logs info and above as text on stderr.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Format: FormatText}
}

// FromStrings builds a Config from the level and format names used in the
// configuration file.
func FromStrings(level, format string) (*Config, error) {
	cfg := DefaultConfig()
	if level != "" {
		l, err := ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = l
	}
	switch strings.ToLower(format) {
	case "", "text":
	case "json":
		cfg.Format = FormatJSON
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
	return cfg, nil
}

// New creates a logger. The returned close function releases the log file,
// if any.
func New(cfg *Config) (*slog.Logger, func() error, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	closer := func() error { return nil }
	w := cfg.Output
	if w == nil {
		w = os.Stderr
		if cfg.FilePath != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0700); err != nil {
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
			f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
			if err != nil {
				return nil, nil, fmt.Errorf("open log file: %w", err)
			}
			w, closer = f, f.Close
		}
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

// ParseLevel parses a string into a log level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// LevelString returns the string representation of a log level.
func LevelString(level Level) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}
