package logging

import (
	"log/slog"
	"os"
	"strings"
)

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

// Component returns a child logger tagged with the component name, or nil
// when the parent is nil so callers can keep their nil guards cheap.
func Component(parent *slog.Logger, name string) *slog.Logger {
	if parent == nil {
		return nil
	}
	return parent.With("component", name)
}
