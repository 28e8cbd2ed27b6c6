// Package observability provides logger construction for the execution
// engine and its CLI. Logging is structured slog throughout; components get
// child loggers tagged with their name.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Log output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ParseLevel maps a level name to a slog.Level. Accepted values are debug,
// info, warn/warning, and error, case-insensitively.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}

// NewLogger builds a slog.Logger writing to w with the given level and
// format ("text" or "json"). Unknown levels and formats fall back to info
// and text with an error returned, so callers can keep a usable logger
// while reporting the bad setting.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, levelErr := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	var formatErr error
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case FormatText, "":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
		formatErr = fmt.Errorf("unknown log format: %q", format)
	}

	logger := slog.New(handler)
	if levelErr != nil {
		return logger, levelErr
	}
	return logger, formatErr
}

// Component returns a child logger tagged with the component name.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("component", name))
}
