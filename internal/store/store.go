// Package store is the per-device SQLite data store: an append-only table of
// timestamped readings whose value columns are fixed by the probe count.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MSLNZ/pr-omega-logger/internal/db"
	"github.com/MSLNZ/pr-omega-logger/internal/migrate"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
	"github.com/MSLNZ/pr-omega-logger/internal/utils"
)

var (
	ErrProbeMismatch = errors.New("store columns do not match the probe count")
	ErrUnknownField  = errors.New("unknown field")
	ErrValueCount    = errors.New("wrong number of values")
	ErrNoDataTable   = errors.New("no data table")
)

// Row is one reading. Values are in the order of Store.Fields.
type Row struct {
	ID        int64
	Timestamp time.Time
	Values    []float64
}

type Store struct {
	db     *sql.DB
	path   string
	fields []string
	logger *slog.Logger

	insertSQL string
	selectSQL string
}

// Open opens or creates the store at path for a device with the given number
// of probes. An existing store whose columns were created for a different
// probe count is rejected with ErrProbeMismatch.
func Open(ctx context.Context, path string, probes int, opts db.Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts.WAL = true
	conn, err := db.Open(path, opts)
	if err != nil {
		return nil, err
	}

	want := types.Fields(probes)
	if err := migrate.Run(ctx, conn, migrate.Schema{Fields: want}, logger.With("store", filepath.Base(path))); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	got, err := tableFields(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !slices.Equal(got, want) {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s has %v, want %v", ErrProbeMismatch, path, got, want)
	}

	return newStore(conn, path, got, logger), nil
}

// OpenExisting opens a store without creating or migrating it. The value
// columns are taken from the file. Used by the backup pass and for copies.
func OpenExisting(ctx context.Context, path string, opts db.Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	conn, err := db.Open(path, opts)
	if err != nil {
		return nil, err
	}
	fields, err := tableFields(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return newStore(conn, path, fields, logger), nil
}

func newStore(conn *sql.DB, path string, fields []string, logger *slog.Logger) *Store {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(fields)+1), ", ")
	return &Store{
		db:        conn,
		path:      path,
		fields:    fields,
		logger:    logger.With("store", filepath.Base(path)),
		insertSQL: "INSERT INTO data (timestamp, " + strings.Join(fields, ", ") + ") VALUES (" + placeholders + ")",
		selectSQL: "SELECT pid, timestamp, " + strings.Join(fields, ", ") + " FROM data",
	}
}

// tableFields returns the value columns of the data table, i.e. every
// column except pid and timestamp.
func tableFields(ctx context.Context, conn *sql.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT name FROM pragma_table_info('data') ORDER BY cid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		all = append(all, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNoDataTable
	}
	var out []string
	for _, name := range all {
		if name == "pid" || name == "timestamp" {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func (s *Store) Path() string { return s.path }

// Name is the file name of the store, e.g. iTHX-W3_01234.sqlite3.
func (s *Store) Name() string { return filepath.Base(s.path) }

// Fields returns the value columns in row order.
func (s *Store) Fields() []string { return slices.Clone(s.fields) }

func (s *Store) Close() error { return db.Close(s.db) }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Append inserts one reading and returns its pid.
func (s *Store) Append(ctx context.Context, ts time.Time, values []float64) (int64, error) {
	if len(values) != len(s.fields) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrValueCount, len(values), len(s.fields))
	}
	args := make([]any, 0, len(values)+1)
	args = append(args, utils.FormatStored(ts))
	for _, v := range values {
		args = append(args, v)
	}
	res, err := s.db.ExecContext(ctx, s.insertSQL, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", s.Name(), err)
	}
	return res.LastInsertId()
}

// Scan returns the rows with start <= timestamp <= end in insertion order.
// A zero start or end leaves that side unbounded.
func (s *Store) Scan(ctx context.Context, start, end time.Time) ([]Row, error) {
	where, args := rangeClause(start, end)
	rows, err := s.db.QueryContext(ctx, s.selectSQL+where+" ORDER BY pid", args...)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.Name(), err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r  Row
			ts string
		)
		r.Values = make([]float64, len(s.fields))
		dest := make([]any, 0, len(s.fields)+2)
		dest = append(dest, &r.ID, &ts)
		for i := range r.Values {
			dest = append(dest, &r.Values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.Name(), err)
		}
		if r.Timestamp, err = utils.ParseStored(ts); err != nil {
			return nil, fmt.Errorf("scan %s row %d: %w", s.Name(), r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Series returns one column between start and end (inclusive) in insertion order.
func (s *Store) Series(ctx context.Context, field string, start, end time.Time) ([]types.Point, error) {
	if !slices.Contains(s.fields, field) {
		return nil, fmt.Errorf("%w %q in %s", ErrUnknownField, field, s.Name())
	}
	where, args := rangeClause(start, end)
	rows, err := s.db.QueryContext(ctx, "SELECT timestamp, "+field+" FROM data"+where+" ORDER BY pid", args...)
	if err != nil {
		return nil, fmt.Errorf("series %s.%s: %w", s.Name(), field, err)
	}
	defer rows.Close()

	out := []types.Point{}
	for rows.Next() {
		var (
			ts string
			p  types.Point
		)
		if err := rows.Scan(&ts, &p.Value); err != nil {
			return nil, fmt.Errorf("series %s.%s: %w", s.Name(), field, err)
		}
		if p.Timestamp, err = utils.ParseStored(ts); err != nil {
			return nil, fmt.Errorf("series %s.%s: %w", s.Name(), field, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func rangeClause(start, end time.Time) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !start.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, utils.FormatStored(start))
	}
	if !end.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, utils.FormatStored(end))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.Name(), err)
	}
	return n, nil
}

// IntegrityCheck runs PRAGMA integrity_check. A healthy file yields ["ok"].
func (s *Store) IntegrityCheck(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// Rows returns a cursor over every column of the data table in pid order.
// The caller must close it.
func (s *Store) Rows(ctx context.Context) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, `SELECT * FROM data ORDER BY pid`)
}
