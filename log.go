package modelsocket

import (
	"log/slog"
	"os"
	"strings"
)

// envLogLevel maps a MODELSOCKET_LOG value to a slog level. The second
// return is false when logging should be disabled entirely.
func envLogLevel(value string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}

// loggerFromEnv builds the default client logger from MODELSOCKET_LOG.
// Unset or unrecognized values disable output.
func loggerFromEnv() *slog.Logger {
	level, ok := envLogLevel(os.Getenv("MODELSOCKET_LOG"))
	if !ok {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
