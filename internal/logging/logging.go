// Package logging builds the slog logger both binaries run on.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options mirror the config file's logging keys.
type Options struct {
	File   string
	Level  string // "debug", "info", "warn", "error"
	Format string // "text", "json"
}

// New returns a logger writing to stdout and, when a file is
// configured, to a size-rotated copy of it. The loop runs unattended
// for weeks, so the file is capped rather than grown forever.
func New(opts Options) *slog.Logger {
	var w io.Writer = os.Stdout
	if opts.File != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    1, // megabytes
			MaxBackups: 3,
		})
	}
	return NewWriter(w, opts)
}

// NewWriter is New with an explicit sink.
func NewWriter(w io.Writer, opts Options) *slog.Logger {
	h := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	if strings.EqualFold(opts.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, h))
	}
	return slog.New(slog.NewTextHandler(w, h))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
