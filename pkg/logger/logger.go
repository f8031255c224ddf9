// Package logger provides slog loggers with optional ANSI coloring for
// terminal output. Warnings render yellow, errors red, and storage
// operations green so persistence activity stands out in a busy stream.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ANSI escape codes used by the colored handler.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// storageVerbs mark messages about persistence activity for green
// highlighting.
var storageVerbs = []string{"persist", "commit", "upsert", "flush", "watermark"}

// coloredHandler wraps a text handler and injects a color prefix based on
// the record's level and message.
type coloredHandler struct {
	inner slog.Handler
	w     io.Writer
}

func (h *coloredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *coloredHandler) Handle(ctx context.Context, record slog.Record) error {
	if color := colorFor(record); color != "" {
		io.WriteString(h.w, color)
		err := h.inner.Handle(ctx, record)
		io.WriteString(h.w, colorReset)
		return err
	}
	return h.inner.Handle(ctx, record)
}

func (h *coloredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &coloredHandler{inner: h.inner.WithAttrs(attrs), w: h.w}
}

func (h *coloredHandler) WithGroup(name string) slog.Handler {
	return &coloredHandler{inner: h.inner.WithGroup(name), w: h.w}
}

func colorFor(record slog.Record) string {
	switch {
	case record.Level >= slog.LevelError:
		return colorRed
	case record.Level >= slog.LevelWarn:
		return colorYellow
	}
	msg := strings.ToLower(record.Message)
	for _, verb := range storageVerbs {
		if strings.Contains(msg, verb) {
			return colorGreen
		}
	}
	return ""
}

// NewLogger creates a logger writing to w. Format is "text", "json", or
// "color"; unknown formats fall back to text.
func NewLogger(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	case "color":
		return slog.New(&coloredHandler{inner: slog.NewTextHandler(w, opts), w: w})
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

// NewDefaultLogger creates a colored logger on stderr.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return NewLogger(level, "color", os.Stderr)
}

// ParseLevel converts a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromConfig builds a logger on stderr from the config file's level and
// format strings.
func FromConfig(level, format string) *slog.Logger {
	return NewLogger(ParseLevel(level), format, os.Stderr)
}
