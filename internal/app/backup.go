package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MSLNZ/pr-omega-logger/internal/backup"
	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/logging"
	"github.com/MSLNZ/pr-omega-logger/internal/notify"
)

const backupLogName = "log.txt"

// RunBackup runs one backup pass over the stores in log_dir. The pass is
// also logged to <backup_dir>/log.txt.
func RunBackup(ctx context.Context, cfg config.Config, version, appName string) ([]backup.Record, error) {
	file, err := LoadFile(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(file.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(file.BackupDir, backupLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open backup log: %w", err)
	}
	defer logFile.Close()

	logger := logging.WithFile(cfg, version, appName, logFile)
	return runBackup(ctx, file, logger)
}

func runBackup(ctx context.Context, file config.File, logger *slog.Logger) ([]backup.Record, error) {
	notifier, err := notify.New(file.SMTP, logger)
	if err != nil {
		return nil, err
	}
	records, err := backup.NewService(file, notifier, logger).Run(ctx)
	if err != nil {
		return records, err
	}
	for _, r := range records {
		if r.State != backup.Verified {
			logger.Warn("backup incomplete", "store", filepath.Base(r.Source), "state", r.State)
		}
	}
	return records, nil
}
