// Package backup copies every data store to the backup directory, verifying
// each copy row by row before it replaces the previous backup.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/db"
	"github.com/MSLNZ/pr-omega-logger/internal/notify"
	"github.com/MSLNZ/pr-omega-logger/internal/store"
)

type State string

const (
	Corrupt  State = "CORRUPT"
	Verified State = "VERIFIED"
	Mismatch State = "MISMATCH"
)

const (
	// A store modified within [safeMin, safeMax] ago has just been written
	// and will not be written again for about wait.
	safeMin = time.Second
	safeMax = 10 * time.Second

	pollInterval = time.Second
	corruptDir   = "corrupt"
)

// IssueSubject is the subject of every backup notification.
var IssueSubject = notify.Subject("Database backup issue")

// Record is the outcome of backing up one store.
type Record struct {
	Source      string
	State       State
	IntegrityOK bool
	CopyMade    bool
	Verified    bool
	SourceRows  int64
	CopyRows    int64
	Err         error
}

type Service struct {
	logDir    string
	backupDir string
	wait      time.Duration
	notifier  notify.Notifier
	logger    *slog.Logger

	now     func() time.Time
	modTime func(path string) (time.Time, error)
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewService(f config.File, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Service{
		logDir:    f.LogDir,
		backupDir: f.BackupDir,
		wait:      f.Wait.Duration(),
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		modTime:   lastModified,
		sleep:     sleepContext,
	}
}

// Run backs up every *.sqlite3 file in the log directory, in name order. A
// failing store does not stop the pass; only a cancelled context does.
func (s *Service) Run(ctx context.Context) ([]Record, error) {
	if err := os.MkdirAll(filepath.Join(s.backupDir, corruptDir), 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(s.logDir, "*.sqlite3"))
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	sort.Strings(files)

	s.logger.Info("----- START  BACKUP -----", "log_dir", s.logDir, "backup_dir", s.backupDir, "stores", len(files))
	var records []Record
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		rec := s.backupOne(ctx, path)
		records = append(records, rec)
		if errors.Is(rec.Err, context.Canceled) || errors.Is(rec.Err, context.DeadlineExceeded) {
			return records, rec.Err
		}
	}
	s.logger.Info("----- FINISH BACKUP -----", "stores", len(records))
	return records, nil
}

func (s *Service) backupOne(ctx context.Context, path string) Record {
	name := filepath.Base(path)
	logger := s.logger.With("store", name)
	rec := Record{Source: path}
	logger.Info("processing")

	src, err := store.OpenExisting(ctx, path, db.Options{}, logger)
	if err != nil {
		return s.corrupt(ctx, logger, rec, fmt.Sprintf("integrity check failed for %s\nThe database cannot be opened:\n  %v", name, err))
	}
	defer func() { _ = src.Close() }()

	check, err := src.IntegrityCheck(ctx)
	if err != nil {
		check = []string{err.Error()}
	}
	if len(check) != 1 || check[0] != "ok" {
		return s.corrupt(ctx, logger, rec, fmt.Sprintf("integrity check failed for %s\nThe database is corrupt:\n  %s", name, strings.Join(check, "\n  ")))
	}
	rec.IntegrityOK = true
	logger.Info("integrity check passed")

	if err := s.waitUntilSafe(ctx, logger, path); err != nil {
		rec.Err = err
		return rec
	}

	partial := filepath.Join(s.backupDir, "."+name+".partial")
	if err := src.CopyTo(ctx, partial); err != nil {
		return s.mismatch(ctx, logger, rec, partial, fmt.Sprintf("backup error for %s\n%v", name, err))
	}
	rec.CopyMade = true
	logger.Info("created backup", "path", partial)

	msg, err := s.verify(ctx, src, partial, &rec)
	if err != nil {
		return s.mismatch(ctx, logger, rec, partial, fmt.Sprintf("verifying backup failed for %s\n%v", name, err))
	}
	if msg != "" {
		return s.mismatch(ctx, logger, rec, partial, msg)
	}

	final := filepath.Join(s.backupDir, name)
	if err := os.Rename(partial, final); err != nil {
		return s.mismatch(ctx, logger, rec, partial, fmt.Sprintf("backup error for %s\n%v", name, err))
	}
	removeIfExists(logger, filepath.Join(s.backupDir, corruptDir, name))
	removeIfExists(logger, filepath.Join(s.backupDir, corruptDir, name+".txt"))

	rec.State, rec.Verified = Verified, true
	logger.Info("verified backup", "path", final, "rows", rec.SourceRows)
	return rec
}

// corrupt leaves the source untouched, writes the diagnostic next to the
// quarantined copies and notifies.
func (s *Service) corrupt(ctx context.Context, logger *slog.Logger, rec Record, msg string) Record {
	rec.State = Corrupt
	rec.Err = errors.New(msg)
	marker := filepath.Join(s.backupDir, corruptDir, filepath.Base(rec.Source)+".txt")
	if err := os.WriteFile(marker, []byte(msg+"\n"), 0o644); err != nil {
		logger.Error("cannot write corrupt marker", "path", marker, "error", err)
	}
	logger.Error(msg)
	s.notify(ctx, logger, msg)
	return rec
}

// mismatch moves the new copy to the corrupt directory so that the previous
// good backup stays in place.
func (s *Service) mismatch(ctx context.Context, logger *slog.Logger, rec Record, partial, msg string) Record {
	rec.State = Mismatch
	rec.Err = errors.New(msg)
	quarantine := filepath.Join(s.backupDir, corruptDir, filepath.Base(rec.Source))
	if err := os.Rename(partial, quarantine); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("cannot quarantine backup", "path", partial, "error", err)
	}
	logger.Error(msg)
	s.notify(ctx, logger, msg)
	return rec
}

func (s *Service) notify(ctx context.Context, logger *slog.Logger, msg string) {
	if err := s.notifier.Send(ctx, IssueSubject, msg); err != nil {
		logger.Error("cannot send email", "error", err)
	}
}

func removeIfExists(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("cannot remove stale file", "path", path, "error", err)
	}
}
