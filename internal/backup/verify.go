package backup

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/MSLNZ/pr-omega-logger/internal/db"
	"github.com/MSLNZ/pr-omega-logger/internal/store"
)

// verify compares every row of src with the copy at path. It returns a
// non-empty message describing the first difference, or an error when the
// copy cannot be read at all.
func (s *Service) verify(ctx context.Context, src *store.Store, path string, rec *Record) (string, error) {
	dst, err := store.OpenExisting(ctx, path, db.Options{MaxOpenConns: 1}, s.logger)
	if err != nil {
		return "", err
	}
	defer func() { _ = dst.Close() }()

	want, err := src.Rows(ctx)
	if err != nil {
		return "", err
	}
	defer want.Close()
	got, err := dst.Rows(ctx)
	if err != nil {
		return "", err
	}
	defer got.Close()

	name := src.Name()
	var missing int64
	for want.Next() {
		rec.SourceRows++
		a, err := scanAll(want)
		if err != nil {
			return "", err
		}
		if !got.Next() {
			missing++
			continue
		}
		rec.CopyRows++
		b, err := scanAll(got)
		if err != nil {
			return "", err
		}
		if !reflect.DeepEqual(a, b) {
			return fmt.Sprintf("verifying backup failed for %s\nrecord mismatch:\n  original=%v\n    backup=%v", name, a, b), nil
		}
	}
	if err := want.Err(); err != nil {
		return "", err
	}
	if missing > 0 {
		return fmt.Sprintf("verifying backup failed for %s, the backed-up database is missing %d record(s)", name, missing), nil
	}
	if got.Next() {
		rec.CopyRows++
		return fmt.Sprintf("verifying backup failed for %s, the backed-up database contains more records than the original database", name), nil
	}
	return "", got.Err()
}

func scanAll(rows *sql.Rows) ([]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}
