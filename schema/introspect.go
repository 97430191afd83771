package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/larder-db/larder/value"
)

// Querier is the read surface introspection needs. It is satisfied by the
// connection core and by open transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) ([]value.Row, error)
}

// TableExists reports whether a table of the given name exists in the live
// database.
func TableExists(ctx context.Context, q Querier, name string) (bool, error) {
	rows, err := q.Query(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	if err != nil {
		return false, fmt.Errorf("schema: lookup table %q: %w", name, err)
	}
	return len(rows) > 0, nil
}

// Introspect reads the live shape of the named table via the introspection
// pragmas. Automatic indexes backing the primary key and UNIQUE column
// constraints are skipped, as are the shadow tables of virtual tables.
func Introspect(ctx context.Context, q Querier, name string) (*Table, error) {
	t := &Table{Name: name}

	rows, err := q.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("schema: table_info(%s): %w", name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("schema: table %q does not exist", name)
	}
	for _, row := range rows {
		col, err := columnFromPragma(row)
		if err != nil {
			return nil, fmt.Errorf("schema: table_info(%s): %w", name, err)
		}
		t.Columns = append(t.Columns, col)
	}

	ixRows, err := q.Query(ctx, fmt.Sprintf("PRAGMA index_list(%s)", QuoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("schema: index_list(%s): %w", name, err)
	}
	for _, row := range ixRows {
		ixName := textField(row, "name")
		origin := textField(row, "origin")
		// "c" marks indexes created by an explicit CREATE INDEX; "pk" and
		// "u" indexes are implied by constraints and not part of the
		// declared shape.
		if origin != "c" || strings.HasPrefix(ixName, "sqlite_autoindex_") {
			continue
		}
		unique := intField(row, "unique") == 1

		cols, err := indexColumns(ctx, q, ixName)
		if err != nil {
			return nil, err
		}
		t.Indexes = append(t.Indexes, Index{Name: ixName, Columns: cols, Unique: unique})
	}

	return t, nil
}

func indexColumns(ctx context.Context, q Querier, index string) ([]string, error) {
	rows, err := q.Query(ctx, fmt.Sprintf("PRAGMA index_info(%s)", QuoteIdent(index)))
	if err != nil {
		return nil, fmt.Errorf("schema: index_info(%s): %w", index, err)
	}
	cols := make([]string, len(rows))
	for _, row := range rows {
		seq := intField(row, "seqno")
		if seq < 0 || int(seq) >= len(cols) {
			return nil, fmt.Errorf("schema: index_info(%s): bad seqno %d", index, seq)
		}
		cols[seq] = textField(row, "name")
	}
	return cols, nil
}

func columnFromPragma(row value.Row) (Column, error) {
	name := textField(row, "name")
	if name == "" {
		return Column{}, fmt.Errorf("row has no column name")
	}
	return Column{
		Name:              name,
		Type:              TypeFromDecl(textField(row, "type")),
		Nullable:          intField(row, "notnull") == 0,
		PrimaryKeyOrdinal: int(intField(row, "pk")),
	}, nil
}

// textField reads a string field from a pragma result row. Pragma columns
// carry no declared type, so their text may arrive as either storage
// class.
func textField(row value.Row, column string) string {
	v, ok := row.Get(column)
	if !ok {
		return ""
	}
	if s, ok := v.Str(); ok {
		return s
	}
	if b, ok := v.Bytes(); ok {
		return string(b)
	}
	return ""
}

func intField(row value.Row, column string) int64 {
	v, ok := row.Get(column)
	if !ok {
		return -1
	}
	i, ok := v.Int()
	if !ok {
		return -1
	}
	return i
}
