// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text logger on stderr at level. Unknown levels fall back to info.
func Setup(level string) {
	SetupWithFormat(level, "text")
}

// SetupWithFormat is Setup with a choice of "text" or "json" output.
func SetupWithFormat(level, format string) {
	slog.SetDefault(New(os.Stderr, level, format))
}

func New(w io.Writer, level, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLevel(level)}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, options))
	}

	return slog.New(slog.NewTextHandler(w, options))
}

func parseLevel(level string) slog.Level {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}

	return parsed
}

// WithModule tags the default logger with the component name.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
