// Package logger builds the process slog.Logger: colored text on a
// terminal, JSON for machines, and size-rotated files when a log file is
// configured.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

type options struct {
	level      slog.Level
	format     string
	file       string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	writer     io.Writer
	noColor    bool
}

// Option configures New.
type Option func(*options)

// WithLevel sets the minimum level.
func WithLevel(level slog.Level) Option {
	return func(o *options) { o.level = level }
}

// WithFormat selects FormatText or FormatJSON.
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithLogFile sends output to a rotated file instead of the writer.
func WithLogFile(path string) Option {
	return func(o *options) { o.file = path }
}

// WithRotation sets the rotation limits of the log file.
func WithRotation(maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(o *options) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

// WithWriter replaces stderr as the destination.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithoutColor disables ANSI colors in text output.
func WithoutColor() Option {
	return func(o *options) { o.noColor = true }
}

// New returns a logger for the given options. Text output is colored
// unless it goes to a file or color is disabled.
func New(opts ...Option) *slog.Logger {
	o := options{
		level:      slog.LevelInfo,
		format:     FormatText,
		maxSizeMB:  10,
		maxBackups: 3,
		maxAgeDays: 28,
		writer:     os.Stderr,
	}
	for _, opt := range opts {
		opt(&o)
	}

	w := o.writer
	if o.file != "" {
		w = &lumberjack.Logger{
			Filename:   o.file,
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			MaxAge:     o.maxAgeDays,
			Compress:   true,
		}
		o.noColor = true
	}

	var h slog.Handler
	if o.format == FormatJSON {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: o.level})
	} else {
		h = tint.NewHandler(w, &tint.Options{
			Level:      o.level,
			TimeFormat: time.Kitchen,
			NoColor:    o.noColor,
		})
	}
	return slog.New(h)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q", s)
	}
}
