package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MSLNZ/pr-omega-logger/internal/app"
	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/logging"
)

const appName = "omega-logger"

// Default version is "dev" if not set with -ldflags "-X main.version=..."
var version = "dev"

const usage = `usage: %s [command]
  serve       log the iServers and serve the web app (default)
  backup      back up every store in log_dir
  test-email  send a test email with the smtp settings
  version     print the version
`

func main() {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	switch command {
	case "serve", "backup", "test-email":
	case "version":
		fmt.Println(version)
		return
	case "-h", "--help", "help":
		fmt.Fprintf(os.Stdout, usage, os.Args[0])
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"command", command,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "backup":
		_, err = app.RunBackup(ctx, cfg, version, appName)
	case "test-email":
		err = app.SendTestEmail(ctx, cfg, logger)
	default:
		err = app.Run(ctx, cfg, version, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "command", command, "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}
