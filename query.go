package larder

import (
	"context"
	"fmt"
	"strings"

	"github.com/larder-db/larder/cache"
	"github.com/larder-db/larder/conn"
	"github.com/larder-db/larder/schema"
	"github.com/larder-db/larder/value"
)

// CachedQuery is a read-through query against table: a hit returns the
// cached rows, a miss runs the query and caches the result. When the
// result rows carry every primary-key column of the resolved table, the
// entry is indexed by those keys and invalidated precisely; otherwise it
// only falls to whole-table invalidation.
func (db *DB) CachedQuery(ctx context.Context, table, sql string, args ...any) ([]value.Row, error) {
	key, err := cache.NewKey(sql, args...)
	if err != nil {
		return nil, err
	}
	if cached, ok := db.cache.Read(table, key); ok {
		return cached.([]value.Row), nil
	}

	// Capture the invalidation epoch before the query runs. A write that
	// lands while the query is in flight bumps it, and the stale result is
	// then dropped instead of overwriting the invalidation.
	epoch := db.cache.Epoch(table)
	rows, err := db.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	var pks [][]value.Value
	if t := db.resolvedTable(table); t != nil {
		pks = primaryKeysOf(t, rows)
	}
	db.cache.Write(table, key, rows, pks, epoch)
	return rows, nil
}

// primaryKeysOf extracts the key tuple of each row, or nil if any row is
// missing a key column.
func primaryKeysOf(t *schema.Table, rows []value.Row) [][]value.Value {
	names := t.PrimaryKeyNames()
	pks := make([][]value.Value, 0, len(rows))
	for _, row := range rows {
		tuple := make([]value.Value, len(names))
		for i, name := range names {
			v, ok := row.Get(name)
			if !ok {
				return nil
			}
			tuple[i] = v
		}
		pks = append(pks, tuple)
	}
	return pks
}

// Upsert writes one full row into a resolved table, updating in place on
// a primary-key conflict. The row must carry every declared column; the
// change is reported with the exact key and column set instead of the
// coarser signal the write hook would produce.
func (db *DB) Upsert(ctx context.Context, table string, row value.Row) error {
	t, err := db.requireResolved(table)
	if err != nil {
		return err
	}
	if len(row.Columns) != len(t.Columns) {
		return fmt.Errorf("larder: upsert into %q: row has %d columns, table declares %d",
			table, len(row.Columns), len(t.Columns))
	}
	quoted := make([]string, len(row.Columns))
	marks := make([]string, len(row.Columns))
	args := make([]any, len(row.Columns))
	for i, name := range row.Columns {
		if _, ok := t.Column(name); !ok {
			return fmt.Errorf("larder: upsert into %q: column %q not declared", table, name)
		}
		quoted[i] = schema.QuoteIdent(name)
		marks[i] = "?"
		args[i] = row.Values[i]
	}

	pk := make([]value.Value, 0, len(t.PrimaryKeyNames()))
	for _, name := range t.PrimaryKeyNames() {
		v, ok := row.Get(name)
		if !ok {
			return fmt.Errorf("larder: upsert into %q: missing key column %q", table, name)
		}
		pk = append(pk, v)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s",
		schema.QuoteIdent(table),
		strings.Join(quoted, ", "),
		strings.Join(marks, ", "),
		t.UpsertClause())

	// The quiet execution suppresses only this statement's hook signal;
	// concurrent writers on the same table still report normally. The
	// precise change is accumulated below instead.
	if _, err := db.conn.ExecuteQuiet(ctx, sql, args...); err != nil {
		return err
	}

	db.cache.Invalidate(table, pk)
	db.reporter.Accumulate(table, [][]value.Value{pk}, row.Columns)
	return nil
}

// DeleteRows deletes the rows with the given primary keys from a resolved
// table, chunking the statement under the engine's bound-parameter limit
// and running all chunks in one transaction. Deletions are reported with
// the exact keys.
//
// DeleteRows opens its own top-level transaction and therefore must not
// be called from inside a Transaction body; use DeleteRowsTx there.
func (db *DB) DeleteRows(ctx context.Context, table string, keys [][]value.Value) error {
	names, chunks, err := db.deleteChunks(table, keys)
	if err != nil || len(chunks) == 0 {
		return err
	}

	_, txErr := db.conn.Transaction(ctx, func(tx *conn.Tx) (conn.TxDecision, error) {
		return conn.Commit, deleteChunksTx(ctx, tx, table, names, chunks)
	})
	if txErr != nil {
		return txErr
	}

	db.reportDeleted(table, keys)
	return nil
}

// DeleteRowsTx is DeleteRows for callers already inside a transaction: it
// nests a savepoint under tx instead of acquiring the writer slot a second
// time. The deletions are reported when the outermost transaction commits.
func (db *DB) DeleteRowsTx(ctx context.Context, tx *conn.Tx, table string, keys [][]value.Value) error {
	names, chunks, err := db.deleteChunks(table, keys)
	if err != nil || len(chunks) == 0 {
		return err
	}

	_, txErr := tx.Transaction(ctx, func(nested *conn.Tx) (conn.TxDecision, error) {
		return conn.Commit, deleteChunksTx(ctx, nested, table, names, chunks)
	})
	if txErr != nil {
		return txErr
	}

	db.reportDeleted(table, keys)
	return nil
}

// deleteChunks validates the key tuples against the resolved table and
// splits them under the bound-parameter limit.
func (db *DB) deleteChunks(table string, keys [][]value.Value) ([]string, [][][]value.Value, error) {
	if len(keys) == 0 {
		return nil, nil, nil
	}
	t, err := db.requireResolved(table)
	if err != nil {
		return nil, nil, err
	}
	names := t.PrimaryKeyNames()
	for _, key := range keys {
		if len(key) != len(names) {
			return nil, nil, fmt.Errorf("larder: delete from %q: key width %d, want %d",
				table, len(key), len(names))
		}
	}
	return names, conn.ChunkKeys(keys, len(names), db.conn.MaxVariables()), nil
}

func deleteChunksTx(ctx context.Context, tx *conn.Tx, table string, names []string, chunks [][][]value.Value) error {
	for _, chunk := range chunks {
		sql, args := deleteChunkSQL(table, names, chunk)
		// Quiet execution: the exact keys are reported by the caller, and
		// only this statement's hook signal is suppressed.
		if _, err := tx.ExecuteQuiet(ctx, sql, args...); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) reportDeleted(table string, keys [][]value.Value) {
	for _, key := range keys {
		db.cache.Invalidate(table, key)
	}
	db.reporter.Accumulate(table, keys, nil)
}

// deleteChunkSQL builds one DELETE statement for a chunk of key tuples:
// IN (...) for a single-column key, a disjunction of tuple equalities
// otherwise.
func deleteChunkSQL(table string, keyNames []string, chunk [][]value.Value) (string, []any) {
	args := make([]any, 0, len(chunk)*len(keyNames))

	if len(keyNames) == 1 {
		marks := make([]string, len(chunk))
		for i, key := range chunk {
			marks[i] = "?"
			args = append(args, key[0])
		}
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			schema.QuoteIdent(table), schema.QuoteIdent(keyNames[0]), strings.Join(marks, ", "))
		return sql, args
	}

	eq := make([]string, len(keyNames))
	for i, name := range keyNames {
		eq[i] = schema.QuoteIdent(name) + " = ?"
	}
	tuple := "(" + strings.Join(eq, " AND ") + ")"

	terms := make([]string, len(chunk))
	for i, key := range chunk {
		terms[i] = tuple
		for _, v := range key {
			args = append(args, v)
		}
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s",
		schema.QuoteIdent(table), strings.Join(terms, " OR "))
	return sql, args
}
