package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
)

func New(cfg config.Config, version string, appName string) *slog.Logger {
	return slog.New(NewHandler(os.Stdout, cfg, version)).With(attrs(cfg, version, appName)...)
}

// NewHandler returns the console handler: tint for dev builds, JSON otherwise.
func NewHandler(w io.Writer, cfg config.Config, version string) slog.Handler {
	if version == "dev" {
		return tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
}

// WithFile returns a logger that writes to the console handler and also to
// w as plain text lines, the format of the backup log.
func WithFile(cfg config.Config, version string, appName string, w io.Writer) *slog.Logger {
	file := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := Fanout(NewHandler(os.Stdout, cfg, version), file)
	return slog.New(h).With(attrs(cfg, version, appName)...)
}

func attrs(cfg config.Config, version, appName string) []any {
	if version == "dev" {
		return []any{"app", appName}
	}
	return []any{"app", appName, "version", version, "env", cfg.AppEnv}
}
