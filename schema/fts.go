package schema

import (
	"fmt"
	"strings"
)

// FTSSpec declares a full-text index over selected columns of a content
// table, kept synchronized by triggers. The index is an external-content
// FTS5 virtual table named "<content>_fts".
type FTSSpec struct {
	ContentTable string
	Columns      []string
	// Tokenizer defaults to unicode61.
	Tokenizer string
}

// TableName returns the virtual table's name.
func (s *FTSSpec) TableName() string { return s.ContentTable + "_fts" }

// Validate checks the spec against the declared content table.
func (s *FTSSpec) Validate(content *Table) error {
	if s.ContentTable != content.Name {
		return fmt.Errorf("schema: fts spec targets %q, content table is %q", s.ContentTable, content.Name)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema: fts spec for %q has no columns", s.ContentTable)
	}
	for _, col := range s.Columns {
		c, ok := content.Column(col)
		if !ok {
			return fmt.Errorf("schema: fts column %q not declared on table %q", col, s.ContentTable)
		}
		if c.Type != ColumnText {
			return fmt.Errorf("schema: fts column %q is %s, want TEXT", col, c.Type)
		}
	}
	return nil
}

func (s *FTSSpec) tokenizer() string {
	if s.Tokenizer == "" {
		return "unicode61"
	}
	return s.Tokenizer
}

// CreateDDL returns the CREATE VIRTUAL TABLE statement.
func (s *FTSSpec) CreateDDL() string {
	cols := make([]string, len(s.Columns))
	copy(cols, s.Columns)
	return fmt.Sprintf("CREATE VIRTUAL TABLE %s USING fts5(%s, content=%s, content_rowid='rowid', tokenize='%s')",
		QuoteIdent(s.TableName()), strings.Join(cols, ", "), QuoteIdent(s.ContentTable), s.tokenizer())
}

// TriggerNames returns the names of the three synchronization triggers, in
// insert/update/delete order.
func (s *FTSSpec) TriggerNames() []string {
	n := s.TableName()
	return []string{n + "_ai", n + "_au", n + "_ad"}
}

// TriggerDDL returns the CREATE TRIGGER statements keeping the index in
// sync with the content table: after insert, after update of the indexed
// columns, and after delete.
func (s *FTSSpec) TriggerDDL() []string {
	fts := QuoteIdent(s.TableName())
	content := QuoteIdent(s.ContentTable)
	names := s.TriggerNames()

	quoted := make([]string, len(s.Columns))
	newVals := make([]string, len(s.Columns))
	oldVals := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		quoted[i] = QuoteIdent(c)
		newVals[i] = "new." + QuoteIdent(c)
		oldVals[i] = "old." + QuoteIdent(c)
	}
	colList := strings.Join(quoted, ", ")
	newList := strings.Join(newVals, ", ")
	oldList := strings.Join(oldVals, ", ")

	insertRow := fmt.Sprintf("INSERT INTO %s(rowid, %s) VALUES (new.rowid, %s);", fts, colList, newList)
	deleteRow := fmt.Sprintf("INSERT INTO %s(%s, rowid, %s) VALUES ('delete', old.rowid, %s);",
		fts, fts, colList, oldList)

	return []string{
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT ON %s BEGIN %s END",
			QuoteIdent(names[0]), content, insertRow),
		fmt.Sprintf("CREATE TRIGGER %s AFTER UPDATE OF %s ON %s BEGIN %s %s END",
			QuoteIdent(names[1]), colList, content, deleteRow, insertRow),
		fmt.Sprintf("CREATE TRIGGER %s AFTER DELETE ON %s BEGIN %s END",
			QuoteIdent(names[2]), content, deleteRow),
	}
}

// RebuildSQL returns the FTS5 command that re-reads every content row into
// the index.
func (s *FTSSpec) RebuildSQL() string {
	fts := QuoteIdent(s.TableName())
	return fmt.Sprintf("INSERT INTO %s(%s) VALUES ('rebuild')", fts, fts)
}

// NormalizeSQL collapses whitespace so DDL read back from sqlite_master
// compares reliably against generated DDL.
func NormalizeSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
