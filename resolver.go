package larder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/larder-db/larder/conn"
	"github.com/larder-db/larder/metrics"
	"github.com/larder-db/larder/schema"
)

// ResolveOption customizes a single Resolve call.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	validator func(live *schema.Table) error
}

// WithValidator runs fn against the reconciled live shape inside the
// migration transaction, before it commits. A returned error aborts the
// migration and leaves the live schema untouched.
func WithValidator(fn func(live *schema.Table) error) ResolveOption {
	return func(o *resolveOptions) { o.validator = fn }
}

// Resolve makes the live table match the declared shape, exactly once per
// (declared table, database instance): the first call creates or migrates
// the table inside one transaction, later calls with the same shape are
// no-ops. Binding a structurally different declaration to an
// already-bound table name panics, since that is a configuration mistake
// rather than a runtime condition.
func (db *DB) Resolve(ctx context.Context, t *schema.Table, opts ...ResolveOption) error {
	if err := t.Validate(); err != nil {
		return err
	}

	var ro resolveOptions
	for _, opt := range opts {
		opt(&ro)
	}

	db.registry.AssertBindable(t)

	if db.registry.Resolved(t) {
		db.registry.MarkResolved(t) // re-checks the name binding
		db.rememberTable(t)
		return nil
	}

	db.resolveMu.Lock()
	defer db.resolveMu.Unlock()
	if db.registry.Resolved(t) {
		db.registry.MarkResolved(t)
		db.rememberTable(t)
		return nil
	}

	var migrated bool
	_, err := db.conn.Transaction(ctx, func(tx *conn.Tx) (conn.TxDecision, error) {
		var err error
		migrated, err = db.reconcile(ctx, tx, t, &ro)
		if err != nil {
			return conn.Rollback, err
		}
		return conn.Commit, nil
	})
	if err != nil {
		return fmt.Errorf("larder: resolve %q: %w", t.Name, err)
	}

	db.registry.MarkResolved(t)
	db.rememberTable(t)
	if migrated {
		// The table's physical shape changed; everything cached under it
		// is suspect.
		db.cache.Invalidate(t.Name, nil)
		metrics.MigrationsTotal.Inc()
	}
	return nil
}

// reconcile runs inside the resolution transaction and returns whether
// any DDL was executed.
func (db *DB) reconcile(ctx context.Context, tx *conn.Tx, t *schema.Table, ro *resolveOptions) (bool, error) {
	exists, err := schema.TableExists(ctx, tx, t.Name)
	if err != nil {
		return false, err
	}

	if !exists {
		db.log.Info("creating table", zap.String("table", t.Name))
		if _, err := tx.Execute(ctx, t.CreateDDL()); err != nil {
			return false, err
		}
		for _, ix := range t.Indexes {
			if _, err := tx.Execute(ctx, schema.IndexDDL(t.Name, ix)); err != nil {
				return false, err
			}
		}
		return true, db.verify(ctx, tx, t, ro)
	}

	live, err := schema.Introspect(ctx, tx, t.Name)
	if err != nil {
		return false, err
	}
	diff := schema.Compute(t, live)
	if diff.Empty() {
		return false, nil
	}

	db.log.Info("migrating table",
		zap.String("table", t.Name),
		zap.Int("add_columns", len(diff.AddColumns)),
		zap.Int("drop_columns", len(diff.DropColumns)),
		zap.Bool("rebuild", diff.NeedsRebuild))

	for _, ix := range diff.DropIndexes {
		if _, err := tx.Execute(ctx, schema.DropIndexDDL(ix.Name)); err != nil {
			return false, err
		}
	}

	// A rebuild copies only the declared columns, so incremental drops are
	// skipped; they could also fail outright when an extra live column sits
	// in the live primary key.
	if diff.NeedsRebuild {
		if err := db.rebuild(ctx, tx, t, live); err != nil {
			return false, err
		}
		return true, db.verify(ctx, tx, t, ro)
	}

	for _, col := range diff.DropColumns {
		if _, err := tx.Execute(ctx, schema.DropColumnDDL(t.Name, col.Name)); err != nil {
			return false, err
		}
	}
	for _, col := range diff.AddColumns {
		ddl, ok := schema.AddColumnDDL(t.Name, col)
		if !ok {
			return false, fmt.Errorf("%w: %s.%s (%s)", ErrNoSafeDefault, t.Name, col.Name, col.Type)
		}
		if _, err := tx.Execute(ctx, ddl); err != nil {
			return false, err
		}
	}
	for _, ix := range diff.AddIndexes {
		if _, err := tx.Execute(ctx, schema.IndexDDL(t.Name, ix)); err != nil {
			return false, err
		}
	}

	return true, db.verify(ctx, tx, t, ro)
}

// rebuild recreates the table from the declared shape and copies the
// common columns across. Used when a column changed type or the primary
// key changed, neither of which ALTER TABLE can express.
func (db *DB) rebuild(ctx context.Context, tx *conn.Tx, t *schema.Table, live *schema.Table) error {
	tmp := t.Name + "_larder_rebuild"
	tmpTable := &schema.Table{Name: tmp, Columns: t.Columns}

	if _, err := tx.Execute(ctx, tmpTable.CreateDDL()); err != nil {
		return err
	}
	if common := schema.CommonColumns(t, live); len(common) > 0 {
		if _, err := tx.Execute(ctx, schema.CopyDDL(t.Name, tmp, common)); err != nil {
			return err
		}
	}
	if _, err := tx.Execute(ctx, schema.DropTableDDL(t.Name)); err != nil {
		return err
	}
	if _, err := tx.Execute(ctx, schema.RenameDDL(tmp, t.Name)); err != nil {
		return err
	}
	for _, ix := range t.Indexes {
		if _, err := tx.Execute(ctx, schema.IndexDDL(t.Name, ix)); err != nil {
			return err
		}
	}
	return nil
}

// verify re-reads the canonical live shape, checks it against the
// declaration, and runs the caller's validator before the transaction
// commits.
func (db *DB) verify(ctx context.Context, tx *conn.Tx, t *schema.Table, ro *resolveOptions) error {
	final, err := schema.Introspect(ctx, tx, t.Name)
	if err != nil {
		return err
	}
	if d := schema.Compute(t, final); !d.Empty() {
		return fmt.Errorf("migration left table %q unreconciled", t.Name)
	}
	if ro.validator != nil {
		if err := ro.validator(final); err != nil {
			return fmt.Errorf("schema validator: %w", err)
		}
	}
	return nil
}
