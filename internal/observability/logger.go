package observability

import (
	"log/slog"
	"os"
	"strings"
)

var logLevel = new(slog.LevelVar)

// SetLevel adjusts the level of every logger built by NewLogger.
func SetLevel(level string) {
	logLevel.Set(ParseLevel(level))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func NewLogger(component string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler).With("component", component)
}
