package larder

import (
	"go.uber.org/zap"

	"github.com/larder-db/larder/conn"
	"github.com/larder-db/larder/value"
)

// dbObserver bridges the connection core's write-completion signals into
// the change reporter and the result cache. Cache invalidation happens
// here, synchronously with the write, so a committed write is never
// observable through a stale cached read; the reporter's flush stays
// asynchronous.
type dbObserver struct {
	db *DB
}

func (o *dbObserver) RowChanged(table string, rowid int64, op conn.Op) {
	t := o.db.resolvedTable(table)
	if t != nil && t.HasRowIDKey() {
		// An INTEGER primary key aliases the rowid, so the hook
		// identifies the row precisely. Changed columns are not part of
		// the hook signal.
		pk := []value.Value{value.Integer(rowid)}
		o.db.cache.Invalidate(table, pk)
		o.db.reporter.Accumulate(table, [][]value.Value{pk}, nil)
		return
	}
	// Composite or non-integer keys cannot be recovered from a rowid;
	// over-report the whole table.
	o.db.cache.Invalidate(table, nil)
	o.db.reporter.AccumulateUnknown(table)
}

func (o *dbObserver) DatabaseChanged() {
	o.db.cache.InvalidateAll()
	o.db.reporter.DatabaseChanged()
}

func (o *dbObserver) ExternalChange() {
	o.db.log.Info("invalidating for external change", zap.String("path", o.db.path))
	o.db.cache.InvalidateAll()
	o.db.reporter.DatabaseChanged()
}

func (o *dbObserver) TransactionStarted(id int64) {
	o.db.reporter.TransactionStarted(id)
}

func (o *dbObserver) TransactionEnded(id int64, rolledBack bool) {
	if rolledBack {
		// Pending accumulation may describe undone writes; over-reporting
		// is safe, but serving their cached results is not.
		o.db.cache.InvalidateAll()
	}
	o.db.reporter.TransactionEnded(id)
}
