package db

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// maxLoggedSQL bounds the statement text in a log record; migration scripts
// are long.
const maxLoggedSQL = 160

// tracer times statements against one store file and logs them.
type tracer struct {
	logger *slog.Logger
	slow   time.Duration
}

func (t tracer) observe(ctx context.Context, op, query string, args []driver.NamedValue, start time.Time, rows int64, err error) {
	elapsed := time.Since(start)
	level := slog.LevelDebug
	if t.slow > 0 && elapsed >= t.slow {
		level = slog.LevelWarn
	}
	if !t.logger.Enabled(ctx, level) {
		return
	}
	attrs := []any{
		"op", op,
		"sql", compactSQL(query),
		"elapsed", elapsed,
	}
	if len(args) > 0 {
		attrs = append(attrs, "args", formatArgs(args))
	}
	if rows >= 0 {
		attrs = append(attrs, "rows", rows)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	msg := "sql"
	if level == slog.LevelWarn {
		msg = "slow sql"
	}
	t.logger.Log(ctx, level, msg, attrs...)
}

// tracingConnector opens sqlite3 connections whose statements are traced.
type tracingConnector struct {
	dsn    string
	tracer tracer
}

// NewTracingConnector returns a driver.Connector for sql.OpenDB that logs
// each statement at debug level, tagged with the store file. A statement
// taking at least slow is logged at warn level instead; zero disables that.
// A nil logger means slog.Default().
func NewTracingConnector(dsn string, logger *slog.Logger, slow time.Duration) driver.Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &tracingConnector{
		dsn:    dsn,
		tracer: tracer{logger: logger.With("db", dsnFile(dsn)), slow: slow},
	}
}

func dsnFile(dsn string) string {
	name := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return filepath.Base(name)
}

func (c *tracingConnector) Driver() driver.Driver { return tracingDriver{} }

func (c *tracingConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := (&sqlite3.SQLiteDriver{}).Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &tracedConn{conn: conn, tracer: c.tracer}, nil
}

// tracingDriver only exists to satisfy driver.Connector.
type tracingDriver struct{}

func (tracingDriver) Open(name string) (driver.Conn, error) {
	return nil, fmt.Errorf("sqlite3-trace: open %q through sql.OpenDB(NewTracingConnector(...))", name)
}

type tracedConn struct {
	conn   driver.Conn
	tracer tracer
}

func (c *tracedConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *tracedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if prep, ok := c.conn.(driver.ConnPrepareContext); ok {
		stmt, err = prep.PrepareContext(ctx, query)
	} else {
		stmt, err = c.conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &tracedStmt{stmt: stmt, query: query, tracer: c.tracer}, nil
}

// ExecContext hands multi-statement scripts (migrations) to sqlite3 whole;
// Prepare would only compile the first statement.
func (c *tracedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	execer, ok := c.conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := execer.ExecContext(ctx, query, args)
	c.tracer.observe(ctx, "exec", query, args, start, rowsAffected(res, err), err)
	return res, err
}

func (c *tracedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	queryer, ok := c.conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := queryer.QueryContext(ctx, query, args)
	c.tracer.observe(ctx, "query", query, args, start, -1, err)
	return rows, err
}

func (c *tracedConn) Close() error { return c.conn.Close() }

func (c *tracedConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *tracedConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if beginTx, ok := c.conn.(driver.ConnBeginTx); ok {
		return beginTx.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019 fallback for a conn without ConnBeginTx
	return c.conn.Begin()
}

type tracedStmt struct {
	stmt   driver.Stmt
	query  string
	tracer tracer
}

func (s *tracedStmt) Close() error { return s.stmt.Close() }

// NumInput returns -1 when the wrapped statement does not know.
func (s *tracedStmt) NumInput() int { return s.stmt.NumInput() }

func (s *tracedStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), toNamed(args))
}

func (s *tracedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if ec, ok := s.stmt.(driver.StmtExecContext); ok {
		res, err = ec.ExecContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019 fallback for a stmt without StmtExecContext
		res, err = s.stmt.Exec(toValues(args))
	}
	s.tracer.observe(ctx, "exec", s.query, args, start, rowsAffected(res, err), err)
	return res, err
}

func (s *tracedStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), toNamed(args))
}

func (s *tracedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if qc, ok := s.stmt.(driver.StmtQueryContext); ok {
		rows, err = qc.QueryContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019 fallback for a stmt without StmtQueryContext
		rows, err = s.stmt.Query(toValues(args))
	}
	s.tracer.observe(ctx, "query", s.query, args, start, -1, err)
	return rows, err
}

func rowsAffected(res driver.Result, err error) int64 {
	if err != nil || res == nil {
		return -1
	}
	n, err := res.RowsAffected()
	if err != nil {
		return -1
	}
	return n
}

// compactSQL collapses whitespace and shortens long scripts.
func compactSQL(query string) string {
	s := strings.Join(strings.Fields(query), " ")
	if len(s) > maxLoggedSQL {
		s = s[:maxLoggedSQL] + "..."
	}
	return s
}

func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		v := "NULL"
		switch t := a.Value.(type) {
		case nil:
		case []byte:
			v = fmt.Sprintf("<%d bytes>", len(t))
		case time.Time:
			v = t.Format(time.DateTime)
		default:
			v = fmt.Sprint(t)
		}
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}

func toNamed(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

func toValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i := range args {
		out[i] = args[i].Value
	}
	return out
}
