package cli

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const logLevelEnv = "SAM2EVAL_LOG_LEVEL"

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// newLogger writes text records to w; the flag value wins over the env var.
func newLogger(w io.Writer, flagLevel string) *slog.Logger {
	level := parseLogLevel(firstNonEmpty(flagLevel, os.Getenv(logLevelEnv)))
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
