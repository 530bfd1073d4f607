package backup

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

// safe reports whether a store last modified dt ago can be copied without
// racing the logger. Within one wait period the store is being written and
// is safe just after a write. Beyond it, the device is either gone or
// failing to answer and the store is safe only after 5·wait of silence.
func (s *Service) safe(dt time.Duration) bool {
	if dt < s.wait {
		return dt > safeMin && dt < safeMax
	}
	return dt > 5*s.wait
}

func (s *Service) waitUntilSafe(ctx context.Context, logger *slog.Logger, path string) error {
	logged := false
	for {
		mtime, err := s.modTime(path)
		if err != nil {
			return err
		}
		dt := s.now().Sub(mtime)
		if s.safe(dt) {
			return nil
		}
		if !logged {
			logged = true
			// TODO: decide whether a store idle for between wait and 5·wait
			// can be copied straight away instead of being held back.
			if dt >= s.wait {
				logger.Warn("store idle longer than the logging interval, waiting for it to settle",
					"since_modified", dt.Round(time.Second), "wait", s.wait)
			} else {
				logger.Info("waiting for the last database modification",
					"min", safeMin, "max", safeMax, "since_modified", dt.Round(time.Millisecond))
			}
		}
		if err := s.sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// lastModified is the newer of the store's and its non-empty WAL's mtime.
func lastModified(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	mtime := info.ModTime()
	wal, err := os.Stat(path + "-wal")
	switch {
	case err == nil && wal.Size() > 0 && wal.ModTime().After(mtime):
		mtime = wal.ModTime()
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return time.Time{}, err
	}
	return mtime, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
