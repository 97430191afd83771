// Package conn is the single-writer execution domain around one open
// SQLite handle: prepared-statement caching, parameter binding, row
// materialization, the savepoint transaction protocol, and detection of
// changes the update hook cannot see (truncate optimization, external
// writers).
package conn

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/larder-db/larder/metrics"
	"github.com/larder-db/larder/value"
)

// Op is the kind of row mutation reported by the update hook.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Observer receives write-completion signals from the connection. All
// callbacks run synchronously on the goroutine executing the statement,
// while the connection mutex is held; implementations must not call back
// into the Conn.
type Observer interface {
	// RowChanged reports one row mutation observed by the update hook.
	RowChanged(table string, rowid int64, op Op)
	// DatabaseChanged reports that rows changed without corresponding
	// update-hook callbacks (the truncate optimization); assume everything
	// changed.
	DatabaseChanged()
	// ExternalChange reports a data-version bump not explained by a local
	// write.
	ExternalChange()
	// TransactionStarted and TransactionEnded bracket outermost
	// transactions only; nested savepoints are invisible to the observer.
	TransactionStarted(id int64)
	TransactionEnded(id int64, rolledBack bool)
}

// Config controls how a connection is opened.
type Config struct {
	// JournalMode defaults to WAL.
	JournalMode string
	// Synchronous defaults to NORMAL.
	Synchronous string
	// BusyTimeoutMS defaults to 5000.
	BusyTimeoutMS int
	// Monitor enables data-version polling for external-change detection.
	Monitor bool
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.JournalMode == "" {
		c.JournalMode = "WAL"
	}
	if c.Synchronous == "" {
		c.Synchronous = "NORMAL"
	}
	if c.BusyTimeoutMS == 0 {
		c.BusyTimeoutMS = 5000
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Conn owns one open SQLite handle. Every statement executes under the
// connection mutex, so all access to the engine is serialized through a
// single logical writer.
type Conn struct {
	log     *zap.Logger
	path    string
	monitor bool

	// writerSem serializes outermost transaction attempts from concurrent
	// callers so savepoint identifiers never collide.
	writerSem *semaphore.Weighted

	mu        sync.Mutex
	sqlite    *sqlite3.SQLiteConn
	stmts     map[string]driver.Stmt
	closed    bool
	hookCalls int64
	// dataVersion is the last observed PRAGMA data_version; it only moves
	// when a different connection commits.
	dataVersion int64
	maxVars     int

	// quiet suppresses observer row signals for the statement currently
	// executing; only set under mu by ExecuteQuiet.
	quiet bool

	txSeq    atomic.Int64
	observer Observer
}

// Open opens (or creates) the database at path with the configured journal
// and synchronous modes. Use ":memory:" for an in-memory database.
func Open(path string, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()

	q := url.Values{}
	q.Set("_journal_mode", cfg.JournalMode)
	q.Set("_synchronous", cfg.Synchronous)
	q.Set("_busy_timeout", fmt.Sprint(cfg.BusyTimeoutMS))
	dsn := "file:" + path + "?" + q.Encode()
	if path == ":memory:" {
		dsn = ":memory:"
	}

	d := &sqlite3.SQLiteDriver{}
	dc, err := d.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("conn: open %s: %w", path, err)
	}
	sc, ok := dc.(*sqlite3.SQLiteConn)
	if !ok {
		dc.Close()
		return nil, fmt.Errorf("conn: driver returned unexpected connection type %T", dc)
	}

	c := &Conn{
		log:       cfg.Logger,
		path:      path,
		monitor:   cfg.Monitor,
		writerSem: semaphore.NewWeighted(1),
		sqlite:    sc,
		stmts:     make(map[string]driver.Stmt),
		maxVars:   sc.GetLimit(sqlite3.SQLITE_LIMIT_VARIABLE_NUMBER),
	}
	sc.RegisterUpdateHook(c.onRowChange)

	if cfg.Monitor {
		if v, err := c.readDataVersion(context.Background()); err == nil {
			c.dataVersion = v
		}
	}

	c.log.Debug("opened database",
		zap.String("path", path),
		zap.String("journal_mode", cfg.JournalMode),
		zap.Int("max_variables", c.maxVars))
	return c, nil
}

// SetObserver installs the write observer. It must be called before any
// write traffic; a nil observer disables reporting.
func (c *Conn) SetObserver(obs Observer) {
	c.mu.Lock()
	c.observer = obs
	c.mu.Unlock()
}

// Path returns the database file path.
func (c *Conn) Path() string { return c.path }

// MaxVariables returns the engine's bound-parameter limit, for chunking
// batched IN (...) queries.
func (c *Conn) MaxVariables() int { return c.maxVars }

// Close finalizes all cached statements and closes the handle. Subsequent
// operations fail with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, stmt := range c.stmts {
		stmt.Close()
	}
	c.stmts = nil
	err := c.sqlite.Close()
	c.log.Debug("closed database", zap.String("path", c.path))
	return err
}

// Execute runs a statement and returns the number of rows it affected.
func (c *Conn) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executeLocked(ctx, sql, args)
}

// ExecuteQuiet runs a mutating statement without forwarding its row-level
// hook signals to the observer. For helpers that report their own change
// precisely; because all statements serialize under the connection mutex,
// the suppression covers exactly this statement and never a concurrent
// caller's. Truncate and external-change detection still apply.
func (c *Conn) ExecuteQuiet(ctx context.Context, sql string, args ...any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quiet = true
	defer func() { c.quiet = false }()
	return c.executeLocked(ctx, sql, args)
}

// Query runs a statement and materializes every result row.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) ([]value.Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryLocked(ctx, sql, args)
}

func (c *Conn) executeLocked(ctx context.Context, sql string, args []any) (int64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	stmt, err := c.stmtLocked(sql)
	if err != nil {
		return 0, err
	}
	named, err := bindArgs(sql, args)
	if err != nil {
		return 0, err
	}

	base, err := c.totalChangesLocked(ctx)
	if err != nil {
		return 0, err
	}
	c.hookCalls = 0

	res, err := execStmt(ctx, stmt, named)
	if err != nil {
		return 0, newExecError(sql, err)
	}
	metrics.StatementsTotal.Inc()

	after, err := c.totalChangesLocked(ctx)
	if err != nil {
		return 0, err
	}
	// The truncate optimization clears tables without per-row callbacks;
	// a delta the hook did not account for means unknown rows changed.
	if after-base > c.hookCalls && c.observer != nil {
		c.log.Debug("change counter mismatch, assuming whole database changed",
			zap.Int64("delta", after-base), zap.Int64("hook_calls", c.hookCalls))
		c.observer.DatabaseChanged()
	}

	if c.monitor {
		c.checkDataVersionLocked(ctx, true)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return affected, nil
}

func (c *Conn) queryLocked(ctx context.Context, sql string, args []any) ([]value.Row, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stmt, err := c.stmtLocked(sql)
	if err != nil {
		return nil, err
	}
	named, err := bindArgs(sql, args)
	if err != nil {
		return nil, err
	}

	rows, err := queryStmt(ctx, stmt, named)
	if err != nil {
		return nil, newExecError(sql, err)
	}
	defer rows.Close()
	metrics.StatementsTotal.Inc()

	return materializeRows(sql, rows)
}

// stmtLocked returns the cached prepared statement for sql, preparing it
// on first use. The cache is keyed by exact SQL text and unbounded for the
// connection's lifetime.
func (c *Conn) stmtLocked(sql string) (driver.Stmt, error) {
	if stmt, ok := c.stmts[sql]; ok {
		return stmt, nil
	}
	stmt, err := c.sqlite.Prepare(sql)
	if err != nil {
		return nil, &QueryError{SQL: sql, Err: err}
	}
	c.stmts[sql] = stmt
	return stmt, nil
}

func (c *Conn) onRowChange(op int, db, table string, rowid int64) {
	c.hookCalls++
	if c.observer == nil || c.quiet {
		return
	}
	var o Op
	switch op {
	case sqlite3.SQLITE_INSERT:
		o = OpInsert
	case sqlite3.SQLITE_UPDATE:
		o = OpUpdate
	case sqlite3.SQLITE_DELETE:
		o = OpDelete
	default:
		return
	}
	c.observer.RowChanged(table, rowid, o)
}

func (c *Conn) totalChangesLocked(ctx context.Context) (int64, error) {
	rows, err := c.rawQueryLocked(ctx, "SELECT total_changes()")
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 || len(rows[0].Values) != 1 {
		return 0, fmt.Errorf("conn: unexpected total_changes() result")
	}
	n, _ := rows[0].Values[0].Int()
	return n, nil
}

func (c *Conn) readDataVersion(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readDataVersionLocked(ctx)
}

func (c *Conn) readDataVersionLocked(ctx context.Context) (int64, error) {
	rows, err := c.rawQueryLocked(ctx, "PRAGMA data_version")
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 || len(rows[0].Values) != 1 {
		return 0, fmt.Errorf("conn: unexpected data_version result")
	}
	n, _ := rows[0].Values[0].Int()
	return n, nil
}

// CheckExternalChange polls the data-version counter; the watch package
// calls this when the database files change on disk. A version bump not
// produced by this connection is broadcast as an external change.
func (c *Conn) CheckExternalChange(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.monitor {
		return
	}
	c.checkDataVersionLocked(ctx, false)
}

func (c *Conn) checkDataVersionLocked(ctx context.Context, afterLocalWrite bool) {
	v, err := c.readDataVersionLocked(ctx)
	if err != nil {
		return
	}
	if v != c.dataVersion {
		c.dataVersion = v
		// data_version only moves when another connection commits, so any
		// bump is external regardless of what we just wrote locally.
		c.log.Info("external database change detected",
			zap.String("path", c.path), zap.Bool("after_local_write", afterLocalWrite))
		if c.observer != nil {
			c.observer.ExternalChange()
		}
	}
}

// execRaw runs a one-shot control statement (savepoints) outside the
// statement cache, since their SQL text is unique per transaction.
func (c *Conn) execRaw(ctx context.Context, sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	stmt, err := c.sqlite.Prepare(sql)
	if err != nil {
		return &QueryError{SQL: sql, Err: err}
	}
	defer stmt.Close()
	if _, err := execStmt(ctx, stmt, nil); err != nil {
		return newExecError(sql, err)
	}
	return nil
}

// rawQueryLocked runs internal bookkeeping queries without the change
// detection wrapped around caller statements.
func (c *Conn) rawQueryLocked(ctx context.Context, sql string) ([]value.Row, error) {
	if c.closed {
		return nil, ErrClosed
	}
	stmt, err := c.stmtLocked(sql)
	if err != nil {
		return nil, err
	}
	rows, err := queryStmt(ctx, stmt, nil)
	if err != nil {
		return nil, newExecError(sql, err)
	}
	defer rows.Close()

	return materializeRows(sql, rows)
}

// materializeRows drains a driver result set into value rows. The raw
// driver hands TEXT columns back as byte slices; columns whose declared
// type carries text affinity are converted so they materialize as TEXT
// values rather than blobs.
func materializeRows(sql string, rows driver.Rows) ([]value.Row, error) {
	cols := rows.Columns()
	text := textColumns(rows)

	var out []value.Row
	for {
		dest := make([]driver.Value, len(cols))
		if err := rows.Next(dest); err != nil {
			if err == io.EOF {
				break
			}
			return nil, newExecError(sql, err)
		}
		vals := make([]value.Value, len(cols))
		for i, d := range dest {
			if b, ok := d.([]byte); ok && i < len(text) && text[i] {
				vals[i] = value.Text(string(b))
				continue
			}
			v, err := value.FromDriver(d)
			if err != nil {
				return nil, newExecError(sql, err)
			}
			vals[i] = v
		}
		out = append(out, value.Row{Columns: cols, Values: vals})
	}
	return out, nil
}

func textColumns(rows driver.Rows) []bool {
	sr, ok := rows.(*sqlite3.SQLiteRows)
	if !ok {
		return nil
	}
	decls := sr.DeclTypes()
	out := make([]bool, len(decls))
	for i, d := range decls {
		d = strings.ToUpper(d)
		out[i] = strings.Contains(d, "CHAR") || strings.Contains(d, "CLOB") || strings.Contains(d, "TEXT")
	}
	return out
}

func execStmt(ctx context.Context, stmt driver.Stmt, args []driver.NamedValue) (driver.Result, error) {
	if s, ok := stmt.(driver.StmtExecContext); ok {
		return s.ExecContext(ctx, args)
	}
	vals, err := positionalOnly(args)
	if err != nil {
		return nil, err
	}
	return stmt.Exec(vals)
}

func queryStmt(ctx context.Context, stmt driver.Stmt, args []driver.NamedValue) (driver.Rows, error) {
	if s, ok := stmt.(driver.StmtQueryContext); ok {
		return s.QueryContext(ctx, args)
	}
	vals, err := positionalOnly(args)
	if err != nil {
		return nil, err
	}
	return stmt.Query(vals)
}

func positionalOnly(args []driver.NamedValue) ([]driver.Value, error) {
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		if a.Name != "" {
			return nil, ErrNamedArgsUnsupported
		}
		vals[i] = a.Value
	}
	return vals, nil
}
