// Package logging builds the controller's slog loggers.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/config"
)

// LevelFatal marks failures an operator must act on, such as the credential
// store becoming unreadable. The process keeps running.
const LevelFatal = slog.LevelError + 4

// New creates the base logger: JSON or text on the configured output, with
// service and version attached to every record.
func New(cfg config.LoggingConfig, version string) *slog.Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return slog.New(NewHandler(cfg, output, version))
}

// NewHandler is New without the logger wrapper, writing to w.
func NewHandler(cfg config.LoggingConfig, w io.Writer, version string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		ReplaceAttr: replaceLevel,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return handler.WithAttrs([]slog.Attr{
		slog.String("service", "portunus-controller"),
		slog.String("version", version),
	})
}

// ParseLevel converts a configured level name. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelFatal {
			return slog.String(slog.LevelKey, "FATAL")
		}
	}
	return a
}

// Fatal logs msg at LevelFatal.
func Fatal(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Log(ctx, LevelFatal, msg, args...)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelFatal + 1}))
}
