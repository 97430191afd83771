// Package schema models declared and introspected SQLite table shapes:
// columns, primary keys and indexes, plus the structural comparison and DDL
// generation that schema resolution is built on. Column and index order is
// insignificant for equality but preserved for DDL generation.
package schema

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// ColumnType is one of the four declared SQLite column types.
type ColumnType int

const (
	ColumnInteger ColumnType = iota
	ColumnFloat
	ColumnText
	ColumnBlob
)

// SQL returns the DDL spelling of the type.
func (t ColumnType) SQL() string {
	switch t {
	case ColumnInteger:
		return "INTEGER"
	case ColumnFloat:
		return "REAL"
	case ColumnText:
		return "TEXT"
	case ColumnBlob:
		return "BLOB"
	}
	return "BLOB"
}

func (t ColumnType) String() string { return t.SQL() }

// TypeFromDecl maps an introspected column declaration to a ColumnType
// using SQLite's affinity rules.
func TypeFromDecl(decl string) ColumnType {
	d := strings.ToUpper(decl)
	switch {
	case strings.Contains(d, "INT"):
		return ColumnInteger
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return ColumnText
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return ColumnFloat
	default:
		return ColumnBlob
	}
}

// Column is one declared or introspected table column. PrimaryKeyOrdinal is
// 0 for non-key columns and 1-based position within the primary key
// otherwise; it is ordering-only metadata and excluded from equality.
type Column struct {
	Name              string
	Type              ColumnType
	Nullable          bool
	PrimaryKeyOrdinal int
}

// Equal reports structural equality, ignoring PrimaryKeyOrdinal.
func (c Column) Equal(o Column) bool {
	return c.Name == o.Name && c.Type == o.Type && c.Nullable == o.Nullable
}

func (c Column) structuralKey() string {
	return fmt.Sprintf("%s\x00%d\x00%t", c.Name, c.Type, c.Nullable)
}

// Index is a (possibly unique) index over named columns. Column order is
// significant for the index definition itself but not for set membership
// within a table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// IndexName derives the deterministic index name used for declared
// indexes, so a created index round-trips through introspection.
func IndexName(table string, columns []string, unique bool) string {
	prefix := "idx"
	if unique {
		prefix = "uniq"
	}
	return prefix + "_" + strings.ToLower(table) + "_" + strings.ToLower(strings.Join(columns, "_"))
}

// Equal reports whether two indexes have the same name, column list and
// uniqueness.
func (i Index) Equal(o Index) bool {
	if i.Name != o.Name || i.Unique != o.Unique || len(i.Columns) != len(o.Columns) {
		return false
	}
	for n, c := range i.Columns {
		if o.Columns[n] != c {
			return false
		}
	}
	return true
}

func (i Index) structuralKey() string {
	return fmt.Sprintf("%s\x00%t\x00%s", i.Name, i.Unique, strings.Join(i.Columns, "\x00"))
}

// Table is a declared or introspected table shape. Identity for resolution
// purposes is the structural hash over (name, columns, primary key,
// indexes), insensitive to column and index order.
type Table struct {
	Name    string
	Columns []Column
	Indexes []Index
}

// PrimaryKey returns the primary key columns in key order.
func (t *Table) PrimaryKey() []Column {
	var pk []Column
	for _, c := range t.Columns {
		if c.PrimaryKeyOrdinal > 0 {
			pk = append(pk, c)
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].PrimaryKeyOrdinal < pk[j].PrimaryKeyOrdinal })
	return pk
}

// PrimaryKeyNames returns the primary key column names in key order.
func (t *Table) PrimaryKeyNames() []string {
	pk := t.PrimaryKey()
	names := make([]string, len(pk))
	for i, c := range pk {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column, if declared.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasRowIDKey reports whether the primary key is a single INTEGER column,
// in which case SQLite aliases it to the rowid and update-hook rowids
// identify rows precisely.
func (t *Table) HasRowIDKey() bool {
	pk := t.PrimaryKey()
	return len(pk) == 1 && pk[0].Type == ColumnInteger
}

// AddIndex appends an index over the given columns with the derived
// deterministic name.
func (t *Table) AddIndex(unique bool, columns ...string) {
	t.Indexes = append(t.Indexes, Index{
		Name:    IndexName(t.Name, columns, unique),
		Columns: columns,
		Unique:  unique,
	})
}

// Validate checks the declared invariants: a table name, at least one
// column, unique column names, a non-empty primary key, and index columns
// that refer to declared columns.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("schema: table has no name")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("schema: table %q has no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema: table %q has an unnamed column", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("schema: table %q declares column %q twice", t.Name, c.Name)
		}
		seen[c.Name] = true
	}
	pk := t.PrimaryKey()
	if len(pk) == 0 {
		return fmt.Errorf("schema: table %q has no primary key", t.Name)
	}
	for i, c := range pk {
		if c.PrimaryKeyOrdinal != i+1 {
			return fmt.Errorf("schema: table %q primary key ordinals are not contiguous", t.Name)
		}
	}
	for _, ix := range t.Indexes {
		if len(ix.Columns) == 0 {
			return fmt.Errorf("schema: index %q on table %q has no columns", ix.Name, t.Name)
		}
		for _, col := range ix.Columns {
			if !seen[col] {
				return fmt.Errorf("schema: index %q references unknown column %q", ix.Name, col)
			}
		}
	}
	return nil
}

// StructuralHash returns the order-insensitive identity hash of the table
// shape. Two tables whose columns or indexes are declared in a different
// order hash identically.
func (t *Table) StructuralHash() uint64 {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, c.structuralKey())
	}
	sort.Strings(cols)

	ixs := make([]string, 0, len(t.Indexes))
	for _, ix := range t.Indexes {
		ixs = append(ixs, ix.structuralKey())
	}
	sort.Strings(ixs)

	h := fnv.New64a()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(t.Name)
	for _, s := range cols {
		write(s)
	}
	write("|pk")
	for _, name := range t.PrimaryKeyNames() {
		write(name)
	}
	write("|ix")
	for _, s := range ixs {
		write(s)
	}
	return h.Sum64()
}

// SameShape reports whether two tables are structurally identical,
// ignoring column and index order.
func (t *Table) SameShape(o *Table) bool {
	return t.Name == o.Name && t.StructuralHash() == o.StructuralHash()
}

// UpsertClause returns the ON CONFLICT fragment keyed by the primary key.
// When every column is part of the key there is nothing to update and the
// clause degrades to DO NOTHING.
func (t *Table) UpsertClause() string {
	pk := t.PrimaryKeyNames()
	keyed := make(map[string]bool, len(pk))
	quotedPK := make([]string, len(pk))
	for i, name := range pk {
		keyed[name] = true
		quotedPK[i] = QuoteIdent(name)
	}

	var sets []string
	for _, c := range t.Columns {
		if keyed[c.Name] {
			continue
		}
		q := QuoteIdent(c.Name)
		sets = append(sets, q+" = excluded."+q)
	}
	conflict := "ON CONFLICT (" + strings.Join(quotedPK, ", ") + ")"
	if len(sets) == 0 {
		return conflict + " DO NOTHING"
	}
	return conflict + " DO UPDATE SET " + strings.Join(sets, ", ")
}

// QuoteIdent quotes an identifier for inclusion in SQL.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
