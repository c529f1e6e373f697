package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

func Configure(levelStr string, env string) {
	slog.SetDefault(New(os.Stderr, ParseLevel(levelStr), env))
}

func New(w io.Writer, level slog.Level, env string) *slog.Logger {
	var handler slog.Handler
	if env == "dev" || env == "development" {
		handler = tint.NewHandler(w, &tint.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromFlags maps the ddclient verbosity flags to a level name. It returns
// fallback when no flag is set.
func LevelFromFlags(quiet, verbose, debug bool, fallback string) string {
	switch {
	case quiet:
		return "error"
	case debug:
		return "debug"
	case verbose:
		return "info"
	default:
		return fallback
	}
}
