package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/db"
)

const stepRetry = 100 * time.Millisecond

// CopyTo writes a consistent snapshot of the store to dst using the SQLite
// online backup API. Readers and the ingest writer are not blocked; dst is
// replaced if it exists.
func (s *Store) CopyTo(ctx context.Context, dst string) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", dst, err)
	}

	dstDB, err := db.Open(dst, db.Options{MaxOpenConns: 1})
	if err != nil {
		return err
	}
	defer func() { _ = dstDB.Close() }()

	dstConn, err := dstDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("copy %s: %w", s.Name(), err)
	}
	defer func() { _ = dstConn.Close() }()

	srcConn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("copy %s: %w", s.Name(), err)
	}
	defer func() { _ = srcConn.Close() }()

	return dstConn.Raw(func(dstRaw any) error {
		return srcConn.Raw(func(srcRaw any) error {
			to, err := db.SQLiteConn(dstRaw)
			if err != nil {
				return err
			}
			from, err := db.SQLiteConn(srcRaw)
			if err != nil {
				return err
			}
			bk, err := to.Backup("main", from, "main")
			if err != nil {
				return fmt.Errorf("backup init %s: %w", s.Name(), err)
			}
			for {
				done, err := bk.Step(-1)
				if err != nil {
					_ = bk.Finish()
					return fmt.Errorf("backup step %s: %w", s.Name(), err)
				}
				if done {
					break
				}
				// source busy or locked; retry
				select {
				case <-ctx.Done():
					_ = bk.Finish()
					return ctx.Err()
				case <-time.After(stepRetry):
				}
			}
			if err := bk.Finish(); err != nil {
				return fmt.Errorf("backup finish %s: %w", s.Name(), err)
			}
			s.logger.Debug("online backup complete", "dst", dst)
			return nil
		})
	})
}
