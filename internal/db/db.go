package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Options controls how a store file is opened.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// WAL switches the file to write-ahead logging so that the ingest writer
	// never blocks readers. Backup copies are written without it.
	WAL bool

	// ReadOnly opens the file with mode=ro; the file must already exist.
	ReadOnly bool

	// SQLLogger receives statement traces; nil means slog.Default().
	SQLLogger *slog.Logger

	// SlowStatement logs statements taking at least this long at warn level.
	SlowStatement time.Duration
}

func Open(path string, opts Options) (*sql.DB, error) {
	dsn, err := buildDSN(path, opts)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if opts.SQLLogger != nil || opts.SlowStatement > 0 {
		db = sql.OpenDB(NewTracingConnector(dsn, opts.SQLLogger, opts.SlowStatement))
	} else {
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping %s: %w", path, err)
	}

	return db, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func buildDSN(path string, opts Options) (string, error) {
	if !opts.ReadOnly {
		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	params := []string{
		"_busy_timeout=5000",
	}
	if opts.WAL {
		params = append(params, "_journal_mode=WAL")
	}
	if opts.ReadOnly {
		params = append(params, "mode=ro")
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// SQLiteConn returns the driver connection behind a value passed to
// (*sql.Conn).Raw, looking through the tracing wrapper.
func SQLiteConn(driverConn any) (*sqlite3.SQLiteConn, error) {
	for {
		switch c := driverConn.(type) {
		case *sqlite3.SQLiteConn:
			return c, nil
		case *tracedConn:
			driverConn = c.conn
		default:
			return nil, errors.New("not a sqlite3 connection")
		}
	}
}
