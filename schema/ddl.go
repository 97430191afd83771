package schema

import (
	"fmt"
	"strings"
)

// CreateDDL returns the CREATE TABLE statement for the declared shape.
// Columns appear in declaration order; the primary key is emitted as a
// table constraint in key order.
func (t *Table) CreateDDL() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(QuoteIdent(t.Name))
	b.WriteString(" (")
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(columnDef(c))
	}
	b.WriteString(", PRIMARY KEY (")
	for i, name := range t.PrimaryKeyNames() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(QuoteIdent(name))
	}
	b.WriteString("))")
	return b.String()
}

func columnDef(c Column) string {
	def := QuoteIdent(c.Name) + " " + c.Type.SQL()
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def
}

// IndexDDL returns the CREATE INDEX statement for ix on table.
func IndexDDL(table string, ix Index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if ix.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	b.WriteString(QuoteIdent(ix.Name))
	b.WriteString(" ON ")
	b.WriteString(QuoteIdent(table))
	b.WriteString(" (")
	for i, col := range ix.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(QuoteIdent(col))
	}
	b.WriteString(")")
	return b.String()
}

// DropIndexDDL returns the DROP INDEX statement for the named index.
func DropIndexDDL(name string) string {
	return "DROP INDEX " + QuoteIdent(name)
}

// DefaultForType returns the SQL literal used as the column default when a
// NOT NULL column is added to a table that already holds rows. ok is false
// when the type has no safe default.
func DefaultForType(t ColumnType) (string, bool) {
	switch t {
	case ColumnInteger:
		return "0", true
	case ColumnFloat:
		return "0.0", true
	case ColumnText:
		return "''", true
	case ColumnBlob:
		return "X''", true
	}
	return "", false
}

// AddColumnDDL returns the ALTER TABLE ... ADD COLUMN statement for c.
// NOT NULL columns receive a type-appropriate default, which SQLite
// requires when the table already contains rows. ok is false when no safe
// default exists for the column's type.
func AddColumnDDL(table string, c Column) (ddl string, ok bool) {
	def := columnDef(c)
	if !c.Nullable {
		dflt, found := DefaultForType(c.Type)
		if !found {
			return "", false
		}
		def += " DEFAULT " + dflt
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QuoteIdent(table), def), true
}

// DropColumnDDL returns the ALTER TABLE ... DROP COLUMN statement.
func DropColumnDDL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", QuoteIdent(table), QuoteIdent(column))
}

// RenameDDL returns the ALTER TABLE ... RENAME TO statement.
func RenameDDL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", QuoteIdent(from), QuoteIdent(to))
}

// DropTableDDL returns the DROP TABLE statement.
func DropTableDDL(table string) string {
	return "DROP TABLE " + QuoteIdent(table)
}

// CopyDDL returns the INSERT ... SELECT statement that copies the named
// columns between two tables with identical column names.
func CopyDDL(from, to string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdent(c)
	}
	list := strings.Join(quoted, ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		QuoteIdent(to), list, list, QuoteIdent(from))
}
