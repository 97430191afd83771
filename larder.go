// Package larder is an embedded persistence engine over SQLite: declared
// table shapes are reconciled against the live database by in-place
// migration, every committed write is republished as a coalesced
// per-table change event, and an invalidating result cache sits over
// expensive repeated reads.
//
// A DB owns one serialized connection plus the schema registry, change
// reporter and cache bound to it. Callers declare schema.Table values,
// Resolve them once, and then read and write through the DB.
package larder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/larder-db/larder/cache"
	"github.com/larder-db/larder/config"
	"github.com/larder-db/larder/conn"
	"github.com/larder-db/larder/journal"
	"github.com/larder-db/larder/report"
	"github.com/larder-db/larder/schema"
	"github.com/larder-db/larder/value"
	"github.com/larder-db/larder/watch"
)

var (
	// ErrClosed is returned for operations on a closed DB.
	ErrClosed = conn.ErrClosed

	// ErrUnresolvedTable is returned by helpers that need a declared
	// table shape before it has been resolved.
	ErrUnresolvedTable = errors.New("larder: table has not been resolved")

	// ErrNoSafeDefault is returned when a migration must add a NOT NULL
	// column whose type has no safe default for existing rows.
	ErrNoSafeDefault = errors.New("larder: no safe default for added column")
)

// DB is one open database instance.
type DB struct {
	path string
	id   uuid.UUID
	log  *zap.Logger
	cfg  *config.Config

	conn     *conn.Conn
	registry *schema.Registry
	reporter *report.Reporter
	cache    *cache.Cache
	watcher  *watch.Watcher
	journal  *journal.Writer

	// resolveMu serializes schema resolutions.
	resolveMu sync.Mutex

	mu       sync.RWMutex
	tables   map[string]*schema.Table
	userHook func(report.Change)
	closed   bool
}

// Open opens (or creates) the database at path. A nil cfg means defaults;
// a nil logger disables logging. Use ":memory:" for a transient database.
func Open(path string, cfg *config.Config, log *zap.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}

	c, err := conn.Open(path, conn.Config{
		JournalMode:   cfg.JournalMode,
		Synchronous:   cfg.Synchronous,
		BusyTimeoutMS: cfg.BusyTimeoutMS,
		Monitor:       cfg.Monitor,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	db := &DB{
		path:     path,
		id:       uuid.New(),
		log:      log,
		cfg:      cfg,
		conn:     c,
		registry: schema.NewRegistry(),
		reporter: report.New(log),
		cache:    cache.New(cfg.CacheCapacity, log),
		tables:   make(map[string]*schema.Table),
	}

	if cfg.Journal.Path != "" {
		jw, err := journal.New(cfg.Journal.Path, cfg.Journal.MaxSizeMB)
		if err != nil {
			c.Close()
			return nil, err
		}
		db.journal = jw
	}
	if db.journal != nil {
		db.reporter.SetBroadcastHook(db.dispatchBroadcast)
	}

	c.SetObserver(&dbObserver{db: db})

	if cfg.Monitor && path != ":memory:" {
		w, err := watch.New(path, log, func() {
			c.CheckExternalChange(context.Background())
		})
		if err != nil {
			db.log.Warn("external monitoring unavailable", zap.Error(err))
		} else {
			db.watcher = w
		}
	}

	log.Info("database open",
		zap.String("path", path),
		zap.String("instance", db.id.String()))
	return db, nil
}

// OpenInMemory opens a transient in-memory database, mainly for tests and
// tooling.
func OpenInMemory(cfg *config.Config, log *zap.Logger) (*DB, error) {
	return Open(":memory:", cfg, log)
}

// InstanceID identifies this open database instance. Schema resolution is
// remembered per instance, not per path.
func (db *DB) InstanceID() uuid.UUID { return db.id }

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Registry returns the instance's schema registry.
func (db *DB) Registry() *schema.Registry { return db.registry }

// Close stops monitoring and closes the connection. Operations after
// Close fail with ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	if db.watcher != nil {
		db.watcher.Close()
	}
	db.journal.Close()
	err := db.conn.Close()
	db.log.Info("database closed", zap.String("path", db.path))
	return err
}

// Execute runs a mutating statement.
func (db *DB) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	return db.conn.Execute(ctx, sql, args...)
}

// Query runs a read statement and materializes all rows.
func (db *DB) Query(ctx context.Context, sql string, args ...any) ([]value.Row, error) {
	return db.conn.Query(ctx, sql, args...)
}

// Transaction runs fn inside an outermost savepoint transaction; see
// conn.Conn.Transaction for the decision/outcome contract.
func (db *DB) Transaction(ctx context.Context, fn func(*conn.Tx) (conn.TxDecision, error)) (conn.TxOutcome, error) {
	return db.conn.Transaction(ctx, fn)
}

// Changes subscribes to coalesced change events for table. The returned
// cancel function ends the subscription.
func (db *DB) Changes(table string) (<-chan report.Change, func()) {
	return db.reporter.Subscribe(table)
}

// SetBroadcastHook installs the legacy broadcast-notification path: every
// flushed event for every table is passed to fn as a generic message.
// Opt-in; nil disables.
func (db *DB) SetBroadcastHook(fn func(report.Change)) {
	db.mu.Lock()
	db.userHook = fn
	db.mu.Unlock()
	db.reporter.SetBroadcastHook(db.dispatchBroadcast)
}

func (db *DB) dispatchBroadcast(c report.Change) {
	db.journal.Log(c)
	db.mu.RLock()
	fn := db.userHook
	db.mu.RUnlock()
	if fn != nil {
		fn(c)
	}
}

// Backup streams a consistent copy of the database to destPath in bounded
// steps. It fails if destPath already exists.
func (db *DB) Backup(ctx context.Context, destPath string) error {
	return db.conn.BackupTo(ctx, destPath, db.cfg.BackupPages)
}

// DeleteDatabase removes the database at path together with its -wal and
// -shm files.
func DeleteDatabase(path string) error {
	return conn.DeleteDatabase(path)
}

// resolvedTable returns the declared shape bound to name, if resolved.
func (db *DB) resolvedTable(name string) *schema.Table {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tables[name]
}

func (db *DB) rememberTable(t *schema.Table) {
	db.mu.Lock()
	db.tables[t.Name] = t
	db.mu.Unlock()
}

func (db *DB) requireResolved(name string) (*schema.Table, error) {
	if t := db.resolvedTable(name); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnresolvedTable, name)
}
