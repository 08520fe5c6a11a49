package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON logger tagged with the emitting service's name.
func New(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", service)
}

// Level maps a deployment environment to its log verbosity. Development
// gets debug output; everything else runs at info.
func Level(env string) slog.Level {
	if env == "development" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
