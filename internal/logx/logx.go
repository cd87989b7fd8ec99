// Package logx configures the process-wide structured logger.
package logx

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON slog handler at the given level as the default logger.
func Setup(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// New returns a logger tagged with the component name.
func New(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
