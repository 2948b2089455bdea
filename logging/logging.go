package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger. JSON if REDQUEEN_JSON_LOG=1/true
// else text. An optional extra writer (the run log file) is teed in.
func Init(service, level string, extra io.Writer) *slog.Logger {
	mode := strings.ToLower(os.Getenv("REDQUEEN_JSON_LOG"))
	json := mode == "1" || mode == "true" || mode == "json"

	out := io.Writer(os.Stdout)
	if extra != nil {
		out = io.MultiWriter(os.Stdout, extra)
	}

	opts := &slog.HandlerOptions{AddSource: false, Level: parseLevel(level)}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", json, "level", strings.ToLower(level))
	return logger
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
