package larder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/larder-db/larder/config"
	"github.com/larder-db/larder/conn"
	"github.com/larder-db/larder/report"
	"github.com/larder-db/larder/schema"
	"github.com/larder-db/larder/value"
)

func openMem(t *testing.T) *DB {
	t.Helper()
	return openAt(t, ":memory:", nil)
}

func openAt(t *testing.T, path string, cfg *config.Config) *DB {
	t.Helper()
	db, err := Open(path, cfg, nil)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", path, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func postTable() *schema.Table {
	t := &schema.Table{
		Name: "post",
		Columns: []schema.Column{
			{Name: "id", Type: schema.ColumnInteger, PrimaryKeyOrdinal: 1},
			{Name: "title", Type: schema.ColumnText},
			{Name: "score", Type: schema.ColumnFloat, Nullable: true},
		},
	}
	t.AddIndex(false, "title")
	return t
}

func mustResolve(t *testing.T, db *DB, tbl *schema.Table) {
	t.Helper()
	if err := db.Resolve(context.Background(), tbl); err != nil {
		t.Fatalf("Resolve(%q) error = %v", tbl.Name, err)
	}
}

func recvChange(t *testing.T, ch <-chan report.Change) report.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return report.Change{}
	}
}

func intKeys(ids ...int64) [][]value.Value {
	keys := make([][]value.Value, len(ids))
	for i, id := range ids {
		keys[i] = []value.Value{value.Integer(id)}
	}
	return keys
}

func sameKeys(got, want [][]value.Value) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if len(got[i]) != len(want[i]) {
			return false
		}
		for j := range got[i] {
			if !got[i][j].Equal(want[i][j]) {
				return false
			}
		}
	}
	return true
}

func TestResolveCreatesAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.db")
	ctx := context.Background()

	db := openAt(t, path, nil)
	mustResolve(t, db, postTable())
	if _, err := db.Execute(ctx, `INSERT INTO post (id, title, score) VALUES (1, 'hello', 4.5)`); err != nil {
		t.Fatal(err)
	}

	// Resolving the same shape again on the same instance is a no-op.
	mustResolve(t, db, postTable())

	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh instance re-reconciles against the live schema and finds
	// nothing to do; existing rows survive.
	db2 := openAt(t, path, nil)
	mustResolve(t, db2, postTable())
	rows, err := db2.Query(ctx, `SELECT title FROM post WHERE id = 1`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if title, _ := rows[0].Values[0].Str(); title != "hello" {
		t.Errorf("title = %q, want hello", title)
	}
}

func TestResolveColumnOrderIrrelevant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.db")
	ctx := context.Background()

	db := openAt(t, path, nil)
	mustResolve(t, db, postTable())
	if _, err := db.Execute(ctx, `INSERT INTO post (id, title) VALUES (1, 'a')`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	permuted := &schema.Table{
		Name: "post",
		Columns: []schema.Column{
			{Name: "score", Type: schema.ColumnFloat, Nullable: true},
			{Name: "title", Type: schema.ColumnText},
			{Name: "id", Type: schema.ColumnInteger, PrimaryKeyOrdinal: 1},
		},
	}
	permuted.AddIndex(false, "title")

	db2 := openAt(t, path, nil)
	mustResolve(t, db2, permuted)
	rows, err := db2.Query(ctx, `SELECT count(*) FROM post`)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := rows[0].Values[0].Int(); n != 1 {
		t.Errorf("count = %d, want 1 after permuted resolve", n)
	}
}

func TestResolveAddsColumnAndIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.db")
	ctx := context.Background()

	db := openAt(t, path, nil)
	mustResolve(t, db, postTable())
	if _, err := db.Execute(ctx, `INSERT INTO post (id, title) VALUES (1, 'a')`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	wider := postTable()
	wider.Columns = append(wider.Columns, schema.Column{Name: "views", Type: schema.ColumnInteger})
	wider.AddIndex(false, "views")

	db2 := openAt(t, path, nil)
	mustResolve(t, db2, wider)

	rows, err := db2.Query(ctx, `SELECT views FROM post WHERE id = 1`)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := rows[0].Values[0].Int(); v != 0 {
		t.Errorf("added NOT NULL integer column backfilled with %d, want 0", v)
	}
}

func TestResolveDropsColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.db")
	ctx := context.Background()

	db := openAt(t, path, nil)
	mustResolve(t, db, postTable())
	db.Close()

	narrower := &schema.Table{
		Name: "post",
		Columns: []schema.Column{
			{Name: "id", Type: schema.ColumnInteger, PrimaryKeyOrdinal: 1},
			{Name: "title", Type: schema.ColumnText},
		},
	}
	narrower.AddIndex(false, "title")

	db2 := openAt(t, path, nil)
	mustResolve(t, db2, narrower)

	if _, err := db2.Query(ctx, `SELECT score FROM post`); err == nil {
		t.Error("dropped column is still queryable")
	}
}

func TestResolveRebuildOnTypeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.db")
	ctx := context.Background()

	db := openAt(t, path, nil)
	mustResolve(t, db, postTable())
	if _, err := db.Execute(ctx, `INSERT INTO post (id, title, score) VALUES (1, 'a', 2.0)`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	retyped := &schema.Table{
		Name: "post",
		Columns: []schema.Column{
			{Name: "id", Type: schema.ColumnInteger, PrimaryKeyOrdinal: 1},
			{Name: "title", Type: schema.ColumnText},
			// score becomes TEXT, which only a rebuild can express.
			{Name: "score", Type: schema.ColumnText, Nullable: true},
		},
	}
	retyped.AddIndex(false, "title")

	db2 := openAt(t, path, nil)
	mustResolve(t, db2, retyped)

	rows, err := db2.Query(ctx, `SELECT id, title FROM post`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rebuild lost rows: got %d, want 1", len(rows))
	}
	if title, _ := rows[0].Values[1].Str(); title != "a" {
		t.Errorf("title = %q, want a", title)
	}
}

func TestResolveValidatorAbortsMigration(t *testing.T) {
	db := openMem(t)
	bad := errors.New("shape rejected")

	err := db.Resolve(context.Background(), postTable(),
		WithValidator(func(live *schema.Table) error { return bad }))
	if !errors.Is(err, bad) {
		t.Fatalf("Resolve error = %v, want validator error", err)
	}

	rows, qerr := db.Query(context.Background(),
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'post'`)
	if qerr != nil {
		t.Fatal(qerr)
	}
	if len(rows) != 0 {
		t.Error("rejected migration left the table behind")
	}
}

func TestConflictingDeclarationPanics(t *testing.T) {
	db := openMem(t)
	mustResolve(t, db, postTable())

	other := &schema.Table{
		Name: "post",
		Columns: []schema.Column{
			{Name: "id", Type: schema.ColumnInteger, PrimaryKeyOrdinal: 1},
			{Name: "body", Type: schema.ColumnBlob},
		},
	}

	defer func() {
		if recover() == nil {
			t.Error("conflicting declaration did not panic")
		}
	}()
	db.Resolve(context.Background(), other)
}

func TestInsertPublishesRowChange(t *testing.T) {
	db := openMem(t)
	mustResolve(t, db, postTable())

	ch, cancel := db.Changes("post")
	defer cancel()

	if _, err := db.Execute(context.Background(),
		`INSERT INTO post (id, title) VALUES (42, 'hello')`); err != nil {
		t.Fatal(err)
	}

	ev := recvChange(t, ch)
	if ev.Table != "post" {
		t.Errorf("event table = %q", ev.Table)
	}
	if !sameKeys(ev.PrimaryKeys, intKeys(42)) {
		t.Errorf("event keys = %v, want [42]", ev.PrimaryKeys)
	}
	if !ev.AllColumns() {
		t.Errorf("hook-level insert should report unknown columns, got %v", ev.Columns)
	}
}

func TestTransactionCoalescesChanges(t *testing.T) {
	db := openMem(t)
	mustResolve(t, db, postTable())

	ch, cancel := db.Changes("post")
	defer cancel()

	ctx := context.Background()
	_, err := db.Transaction(ctx, func(tx *conn.Tx) (conn.TxDecision, error) {
		if _, err := tx.Execute(ctx, `INSERT INTO post (id, title) VALUES (1, 'a')`); err != nil {
			return conn.Rollback, err
		}
		if _, err := tx.Execute(ctx, `INSERT INTO post (id, title) VALUES (2, 'b')`); err != nil {
			return conn.Rollback, err
		}
		return conn.Commit, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ev := recvChange(t, ch)
	if !sameKeys(ev.PrimaryKeys, intKeys(1, 2)) {
		t.Errorf("coalesced keys = %v, want [1 2]", ev.PrimaryKeys)
	}

	select {
	case extra := <-ch:
		t.Errorf("transaction produced a second event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUpsertReportsExactChange(t *testing.T) {
	db := openMem(t)
	mustResolve(t, db, postTable())

	ch, cancel := db.Changes("post")
	defer cancel()

	row := value.Row{
		Columns: []string{"id", "title", "score"},
		Values:  []value.Value{value.Integer(1), value.Text("hello"), value.Float(4.5)},
	}
	if err := db.Upsert(context.Background(), "post", row); err != nil {
		t.Fatalf("Upsert error = %v", err)
	}

	ev := recvChange(t, ch)
	if !sameKeys(ev.PrimaryKeys, intKeys(1)) {
		t.Errorf("keys = %v, want [1]", ev.PrimaryKeys)
	}
	want := []string{"id", "score", "title"}
	if len(ev.Columns) != len(want) {
		t.Fatalf("columns = %v, want %v", ev.Columns, want)
	}
	for i, c := range want {
		if ev.Columns[i] != c {
			t.Errorf("columns = %v, want %v", ev.Columns, want)
			break
		}
	}

	// Conflict path updates in place.
	row.Values[1] = value.Text("revised")
	if err := db.Upsert(context.Background(), "post", row); err != nil {
		t.Fatal(err)
	}
	rows, err := db.Query(context.Background(), `SELECT title FROM post WHERE id = 1`)
	if err != nil {
		t.Fatal(err)
	}
	if title, _ := rows[0].Values[0].Str(); title != "revised" {
		t.Errorf("title after conflict upsert = %q, want revised", title)
	}
}

func TestDeleteRows(t *testing.T) {
	db := openMem(t)
	mustResolve(t, db, postTable())
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if _, err := db.Execute(ctx, `INSERT INTO post (id, title) VALUES (?, 'x')`, i); err != nil {
			t.Fatal(err)
		}
	}

	ch, cancel := db.Changes("post")
	defer cancel()

	if err := db.DeleteRows(ctx, "post", intKeys(2, 4)); err != nil {
		t.Fatalf("DeleteRows error = %v", err)
	}

	rows, err := db.Query(ctx, `SELECT id FROM post ORDER BY id`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d surviving rows, want 3", len(rows))
	}

	ev := recvChange(t, ch)
	if !sameKeys(ev.PrimaryKeys, intKeys(2, 4)) {
		t.Errorf("delete event keys = %v, want [2 4]", ev.PrimaryKeys)
	}
	if !ev.AllColumns() {
		t.Errorf("deletions should report unknown columns, got %v", ev.Columns)
	}

	if err := db.DeleteRows(ctx, "post", nil); err != nil {
		t.Errorf("empty DeleteRows error = %v", err)
	}
}

func TestConcurrentWritersAllReported(t *testing.T) {
	db := openMem(t)
	mustResolve(t, db, postTable())
	ctx := context.Background()

	ch, cancel := db.Changes("post")
	defer cancel()

	// One writer uses the precise helper, the other raw statements, both
	// against the same table. Every committed row must eventually surface
	// in a change event; the helper suppressing its own hook signal must
	// not swallow the raw writer's.
	const perWriter = 100
	var wg sync.WaitGroup
	wg.Add(2)
	errc := make(chan error, 2)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= perWriter; i++ {
			row := value.Row{
				Columns: []string{"id", "title", "score"},
				Values:  []value.Value{value.Integer(i), value.Text("up"), value.Null()},
			}
			if err := db.Upsert(ctx, "post", row); err != nil {
				errc <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := int64(perWriter + 1); i <= 2*perWriter; i++ {
			if _, err := db.Execute(ctx, `INSERT INTO post (id, title) VALUES (?, 'raw')`, i); err != nil {
				errc <- err
				return
			}
		}
	}()
	go func() { wg.Wait(); close(errc) }()

	seen := make(map[int64]bool)
	deadline := time.After(10 * time.Second)
	errs := errc
	for len(seen) < 2*perWriter {
		select {
		case ev := <-ch:
			if ev.AllRows() {
				// A whole-table event covers every row.
				for i := int64(1); i <= 2*perWriter; i++ {
					seen[i] = true
				}
				continue
			}
			for _, pk := range ev.PrimaryKeys {
				if id, ok := pk[0].Int(); ok {
					seen[id] = true
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.Fatal(err)
		case <-deadline:
			t.Fatalf("only %d of %d written rows were reported", len(seen), 2*perWriter)
		}
	}
}

func TestDeleteRowsInsideTransaction(t *testing.T) {
	db := openMem(t)
	mustResolve(t, db, postTable())
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if _, err := db.Execute(ctx, `INSERT INTO post (id, title) VALUES (?, 'x')`, i); err != nil {
			t.Fatal(err)
		}
	}

	ch, cancel := db.Changes("post")
	defer cancel()

	// DeleteRows would contend for the writer slot the enclosing
	// transaction already holds; the Tx variant nests instead.
	_, err := db.Transaction(ctx, func(tx *conn.Tx) (conn.TxDecision, error) {
		if _, err := tx.Execute(ctx, `INSERT INTO post (id, title) VALUES (6, 'x')`); err != nil {
			return conn.Rollback, err
		}
		if err := db.DeleteRowsTx(ctx, tx, "post", intKeys(2, 4)); err != nil {
			return conn.Rollback, err
		}
		return conn.Commit, nil
	})
	if err != nil {
		t.Fatalf("Transaction error = %v", err)
	}

	rows, err := db.Query(ctx, `SELECT count(*) FROM post`)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := rows[0].Values[0].Int(); n != 4 {
		t.Errorf("count = %d, want 4", n)
	}

	ev := recvChange(t, ch)
	if !sameKeys(ev.PrimaryKeys, intKeys(2, 4, 6)) {
		t.Errorf("coalesced keys = %v, want [2 4 6]", ev.PrimaryKeys)
	}
}

func TestCachedQueryCoherence(t *testing.T) {
	db := openMem(t)
	mustResolve(t, db, postTable())
	ctx := context.Background()

	if _, err := db.Execute(ctx, `INSERT INTO post (id, title) VALUES (1, 'old')`); err != nil {
		t.Fatal(err)
	}

	const q = `SELECT id, title FROM post WHERE id = ?`
	rows, err := db.CachedQuery(ctx, "post", q, 1)
	if err != nil {
		t.Fatal(err)
	}
	if title, _ := rows[0].Values[1].Str(); title != "old" {
		t.Fatalf("title = %q", title)
	}
	if db.cache.Len("post") != 1 {
		t.Fatalf("cache holds %d entries, want 1", db.cache.Len("post"))
	}

	// The cached entry is keyed by the row's primary key, so a write to
	// that row evicts it and the next read sees fresh data.
	if _, err := db.Execute(ctx, `UPDATE post SET title = 'new' WHERE id = 1`); err != nil {
		t.Fatal(err)
	}
	rows, err = db.CachedQuery(ctx, "post", q, 1)
	if err != nil {
		t.Fatal(err)
	}
	if title, _ := rows[0].Values[1].Str(); title != "new" {
		t.Errorf("post-write cached read = %q, want new", title)
	}
}

func TestCachedQueryArgNormalization(t *testing.T) {
	db := openMem(t)
	mustResolve(t, db, postTable())
	ctx := context.Background()

	if _, err := db.Execute(ctx, `INSERT INTO post (id, title) VALUES (1, 'a')`); err != nil {
		t.Fatal(err)
	}

	const q = `SELECT id FROM post WHERE id = ?`
	if _, err := db.CachedQuery(ctx, "post", q, 1); err != nil {
		t.Fatal(err)
	}
	// int and int64 arguments normalize to the same key.
	if _, err := db.CachedQuery(ctx, "post", q, int64(1)); err != nil {
		t.Fatal(err)
	}
	if n := db.cache.Len("post"); n != 1 {
		t.Errorf("equivalent queries produced %d cache entries, want 1", n)
	}
}

func TestRolledBackTransactionInvalidatesCache(t *testing.T) {
	db := openMem(t)
	mustResolve(t, db, postTable())
	ctx := context.Background()

	if _, err := db.Execute(ctx, `INSERT INTO post (id, title) VALUES (1, 'a')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CachedQuery(ctx, "post", `SELECT id FROM post`); err != nil {
		t.Fatal(err)
	}

	_, err := db.Transaction(ctx, func(tx *conn.Tx) (conn.TxDecision, error) {
		if _, err := tx.Execute(ctx, `INSERT INTO post (id, title) VALUES (2, 'b')`); err != nil {
			return conn.Rollback, err
		}
		return conn.Rollback, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if n := db.cache.Len("post"); n != 0 {
		t.Errorf("cache holds %d entries after rollback, want 0", n)
	}
}

// requireFTS5 skips the test when the driver was built without the fts5
// module (mattn/go-sqlite3 gates it behind the sqlite_fts5 build tag).
func requireFTS5(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	if _, err := db.Execute(ctx, `CREATE VIRTUAL TABLE "_fts_probe" USING fts5(x)`); err != nil {
		t.Skip("fts5 module unavailable; build with -tags sqlite_fts5")
	}
	if _, err := db.Execute(ctx, `DROP TABLE "_fts_probe"`); err != nil {
		t.Fatal(err)
	}
}

func TestFullTextIndex(t *testing.T) {
	db := openMem(t)
	requireFTS5(t, db)
	mustResolve(t, db, postTable())
	ctx := context.Background()

	spec := &schema.FTSSpec{ContentTable: "post", Columns: []string{"title"}}
	if err := db.ResolveFTS(ctx, spec); err != nil {
		t.Fatalf("ResolveFTS error = %v", err)
	}
	// Resolving an unchanged spec is a no-op.
	if err := db.ResolveFTS(ctx, spec); err != nil {
		t.Fatalf("second ResolveFTS error = %v", err)
	}

	if _, err := db.Execute(ctx, `INSERT INTO post (id, title) VALUES (1, 'sqlite persistence engine')`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Execute(ctx, `INSERT INTO post (id, title) VALUES (2, 'unrelated words')`); err != nil {
		t.Fatal(err)
	}

	rows, err := db.Query(ctx, `SELECT rowid FROM "post_fts" WHERE "post_fts" MATCH ?`, "persistence")
	if err != nil {
		t.Fatalf("match query error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("match returned %d rows, want 1", len(rows))
	}
	if id, _ := rows[0].Values[0].Int(); id != 1 {
		t.Errorf("matched rowid = %d, want 1", id)
	}

	// Updates flow through the synchronization triggers.
	if _, err := db.Execute(ctx, `UPDATE post SET title = 'persistence too' WHERE id = 2`); err != nil {
		t.Fatal(err)
	}
	rows, err = db.Query(ctx, `SELECT rowid FROM "post_fts" WHERE "post_fts" MATCH ? ORDER BY rowid`, "persistence")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("after update match returned %d rows, want 2", len(rows))
	}
}

func TestFullTextIndexRebuildOnDrift(t *testing.T) {
	db := openMem(t)
	requireFTS5(t, db)
	tbl := &schema.Table{
		Name: "doc",
		Columns: []schema.Column{
			{Name: "id", Type: schema.ColumnInteger, PrimaryKeyOrdinal: 1},
			{Name: "title", Type: schema.ColumnText},
			{Name: "body", Type: schema.ColumnText},
		},
	}
	mustResolve(t, db, tbl)
	ctx := context.Background()

	if err := db.ResolveFTS(ctx, &schema.FTSSpec{ContentTable: "doc", Columns: []string{"title"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Execute(ctx, `INSERT INTO doc (id, title, body) VALUES (1, 'alpha', 'needle in the body')`); err != nil {
		t.Fatal(err)
	}

	// Widening the spec recreates the index and backfills existing rows.
	if err := db.ResolveFTS(ctx, &schema.FTSSpec{ContentTable: "doc", Columns: []string{"title", "body"}}); err != nil {
		t.Fatal(err)
	}
	rows, err := db.Query(ctx, `SELECT rowid FROM "doc_fts" WHERE "doc_fts" MATCH ?`, "needle")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("backfilled match returned %d rows, want 1", len(rows))
	}
}

func TestBroadcastHookAndJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Journal.Path = filepath.Join(dir, "changes.jsonl")

	db := openAt(t, filepath.Join(dir, "app.db"), cfg)
	mustResolve(t, db, postTable())

	var mu sync.Mutex
	var seen []report.Change
	done := make(chan struct{}, 1)
	db.SetBroadcastHook(func(c report.Change) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	if _, err := db.Execute(context.Background(),
		`INSERT INTO post (id, title) VALUES (1, 'a')`); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast hook never fired")
	}

	mu.Lock()
	if len(seen) == 0 || seen[0].Table != "post" {
		t.Errorf("broadcast saw %+v", seen)
	}
	mu.Unlock()

	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(cfg.Journal.Path)
	if err != nil {
		t.Fatalf("journal file: %v", err)
	}
	if len(data) == 0 {
		t.Error("journal file is empty")
	}
}

func TestUnresolvedTableHelpers(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()

	err := db.Upsert(ctx, "ghost", value.Row{Columns: []string{"id"}, Values: []value.Value{value.Integer(1)}})
	if !errors.Is(err, ErrUnresolvedTable) {
		t.Errorf("Upsert on unresolved table = %v, want ErrUnresolvedTable", err)
	}
	if err := db.DeleteRows(ctx, "ghost", intKeys(1)); !errors.Is(err, ErrUnresolvedTable) {
		t.Errorf("DeleteRows on unresolved table = %v, want ErrUnresolvedTable", err)
	}
}
