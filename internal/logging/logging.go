package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New initializes a new slog logger writing to stderr and sets it as the default.
// format is "text" (development) or "json" (production).
func New(format, level string) *slog.Logger {
	return NewWithWriter(os.Stderr, format, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, format, level string) *slog.Logger {
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: ParseLevel(level),
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     ParseLevel(level),
			AddSource: ParseLevel(level) == slog.LevelDebug, // Adds source file and line number
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name onto slog, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
