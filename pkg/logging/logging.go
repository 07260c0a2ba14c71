// Package logging provides configurable structured logging for the relay and
// its clients.
//
// Both binaries use Go's standard log/slog with configurable levels. Log
// levels from most to least verbose: DEBUG, INFO, WARN, ERROR. Logs can also
// be copied to a size-rotated file.
//
// Usage:
//
//	logging.Setup(logging.Options{Level: "debug", Format: "text"})
//	slog.Debug("detailed trace", "key", "value")
//	slog.Info("normal operation", "key", "value")
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    `yaml:"level"`  // "debug", "info", "warn", "error" (default: "info")
	Format string    `yaml:"format"` // "text" or "json" (default: "text")
	Output io.Writer `yaml:"-"`      // where to write logs (default: os.Stdout)

	// Optional rotating log file, written in addition to Output.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`  // default 10
	MaxBackups int    `yaml:"max_backups,omitempty"`  // default 5
	MaxAgeDays int    `yaml:"max_age_days,omitempty"` // default 30
	Compress   bool   `yaml:"compress,omitempty"`
}

// ParseLevel converts a string level name to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initialises the global slog logger with the given options.
// Safe to call early in main() before any logging occurs. The returned
// closer releases the log file, if any.
func Setup(opts Options) (io.Closer, error) {
	if err := Validate(opts.Level); err != nil {
		return nil, err
	}
	if err := ValidateFormat(opts.Format); err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := RotatingFile(opts)
		out = io.MultiWriter(out, file)
		closer = file
	}

	slog.SetDefault(slog.New(NewHandler(out, opts)))
	return closer, nil
}

// NewHandler builds the slog handler Setup installs.
func NewHandler(out io.Writer, opts Options) slog.Handler {
	level := ParseLevel(opts.Level)

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // include file:line in debug mode
	}

	switch strings.ToLower(opts.Format) {
	case "json":
		return slog.NewJSONHandler(out, handlerOpts)
	default:
		return slog.NewTextHandler(out, handlerOpts)
	}
}

// RotatingFile returns the size-rotated writer for opts.File.
func RotatingFile(opts Options) *lumberjack.Logger {
	l := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	if l.MaxSize <= 0 {
		l.MaxSize = 10
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 5
	}
	if l.MaxAge <= 0 {
		l.MaxAge = 30
	}
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// LevelNames returns all valid level names, useful for --help text.
func LevelNames() string {
	return "debug, info, warn, error"
}

// Validate returns an error if the level string is not recognized.
func Validate(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error", "":
		return nil
	default:
		return fmt.Errorf("unknown log level %q (valid: %s)", level, LevelNames())
	}
}

// ValidateFormat returns an error if the format is neither text nor json.
func ValidateFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "json", "":
		return nil
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", format)
	}
}
