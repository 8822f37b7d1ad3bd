package watch

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger from cfg.
func NewLogger(cfg LoggingConfig, version string) *slog.Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return newLogger(output, cfg, version)
}

func newLogger(output io.Writer, cfg LoggingConfig, version string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "udevwatch"),
		slog.String("version", version),
	})
	return slog.New(handler)
}

// parseLevel defaults to info for anything it does not recognise.
func parseLevel(level string) slog.Level {
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
