package larder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/larder-db/larder/conn"
	"github.com/larder-db/larder/schema"
)

// ResolveFTS reconciles a full-text index over an already-resolved content
// table. If the live virtual table and its synchronization triggers match
// the declared spec, the call is a no-op; otherwise they are dropped,
// recreated, and the index is rebuilt from the content table, all inside
// one transaction.
func (db *DB) ResolveFTS(ctx context.Context, spec *schema.FTSSpec) error {
	content, err := db.requireResolved(spec.ContentTable)
	if err != nil {
		return err
	}
	if err := spec.Validate(content); err != nil {
		return err
	}

	db.resolveMu.Lock()
	defer db.resolveMu.Unlock()

	var rebuilt bool
	_, err = db.conn.Transaction(ctx, func(tx *conn.Tx) (conn.TxDecision, error) {
		upToDate, err := db.ftsMatchesLive(ctx, tx, spec)
		if err != nil {
			return conn.Rollback, err
		}
		if upToDate {
			return conn.Commit, nil
		}
		if err := db.recreateFTS(ctx, tx, spec); err != nil {
			return conn.Rollback, err
		}
		rebuilt = true
		return conn.Commit, nil
	})
	if err != nil {
		return fmt.Errorf("larder: resolve fts %q: %w", spec.TableName(), err)
	}
	if rebuilt {
		db.log.Info("rebuilt full-text index",
			zap.String("table", spec.ContentTable),
			zap.String("index", spec.TableName()))
	}
	return nil
}

// ftsMatchesLive compares the live DDL of the virtual table and its three
// triggers, as recorded in sqlite_master, against what the spec would
// generate.
func (db *DB) ftsMatchesLive(ctx context.Context, tx *conn.Tx, spec *schema.FTSSpec) (bool, error) {
	want := map[string]string{spec.TableName(): spec.CreateDDL()}
	for i, name := range spec.TriggerNames() {
		want[name] = spec.TriggerDDL()[i]
	}

	for name, ddl := range want {
		rows, err := tx.Query(ctx,
			"SELECT sql FROM sqlite_master WHERE name = ?", name)
		if err != nil {
			return false, err
		}
		if len(rows) == 0 {
			return false, nil
		}
		live, _ := rows[0].Values[0].Str()
		if schema.NormalizeSQL(live) != schema.NormalizeSQL(ddl) {
			return false, nil
		}
	}
	return true, nil
}

func (db *DB) recreateFTS(ctx context.Context, tx *conn.Tx, spec *schema.FTSSpec) error {
	for _, name := range spec.TriggerNames() {
		stmt := fmt.Sprintf("DROP TRIGGER IF EXISTS %s", schema.QuoteIdent(name))
		if _, err := tx.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	drop := fmt.Sprintf("DROP TABLE IF EXISTS %s", schema.QuoteIdent(spec.TableName()))
	if _, err := tx.Execute(ctx, drop); err != nil {
		return err
	}

	if _, err := tx.Execute(ctx, spec.CreateDDL()); err != nil {
		return err
	}
	for _, stmt := range spec.TriggerDDL() {
		if _, err := tx.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := tx.Execute(ctx, spec.RebuildSQL())
	return err
}
