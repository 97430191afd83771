package schema

// Diff describes the work needed to reconcile a live table with a declared
// one. When NeedsRebuild is set the add/drop column lists are moot: the
// table is recreated from the declared shape and common columns are copied
// across.
type Diff struct {
	DropIndexes []Index
	AddIndexes  []Index
	DropColumns []Column
	AddColumns  []Column

	// NeedsRebuild is set when a column present in both shapes differs in
	// type or nullability, or the primary key differs. Neither can be
	// expressed as ALTER TABLE on SQLite.
	NeedsRebuild bool
}

// Empty reports whether the two shapes already match.
func (d Diff) Empty() bool {
	return !d.NeedsRebuild &&
		len(d.DropIndexes) == 0 && len(d.AddIndexes) == 0 &&
		len(d.DropColumns) == 0 && len(d.AddColumns) == 0
}

// Compute diffs the live shape against the declared one. Columns are
// matched by name; indexes by (name, columns, unique).
func Compute(declared, live *Table) Diff {
	var d Diff

	declaredCols := make(map[string]Column, len(declared.Columns))
	for _, c := range declared.Columns {
		declaredCols[c.Name] = c
	}
	liveCols := make(map[string]Column, len(live.Columns))
	for _, c := range live.Columns {
		liveCols[c.Name] = c
	}

	for _, c := range live.Columns {
		if _, ok := declaredCols[c.Name]; !ok {
			d.DropColumns = append(d.DropColumns, c)
		}
	}
	for _, c := range declared.Columns {
		lc, ok := liveCols[c.Name]
		if !ok {
			d.AddColumns = append(d.AddColumns, c)
			continue
		}
		if lc.Type != c.Type || lc.Nullable != c.Nullable {
			d.NeedsRebuild = true
		}
	}

	if !samePrimaryKey(declared, live) {
		d.NeedsRebuild = true
	}

	declaredIx := make(map[string]Index, len(declared.Indexes))
	for _, ix := range declared.Indexes {
		declaredIx[ix.structuralKey()] = ix
	}
	liveIx := make(map[string]Index, len(live.Indexes))
	for _, ix := range live.Indexes {
		liveIx[ix.structuralKey()] = ix
	}
	for _, ix := range live.Indexes {
		if _, ok := declaredIx[ix.structuralKey()]; !ok {
			d.DropIndexes = append(d.DropIndexes, ix)
		}
	}
	for _, ix := range declared.Indexes {
		if _, ok := liveIx[ix.structuralKey()]; !ok {
			d.AddIndexes = append(d.AddIndexes, ix)
		}
	}

	return d
}

func samePrimaryKey(a, b *Table) bool {
	pa, pb := a.PrimaryKeyNames(), b.PrimaryKeyNames()
	if len(pa) != len(pb) {
		return false
	}
	for i := range pa {
		if pa[i] != pb[i] {
			return false
		}
	}
	return true
}

// CommonColumns returns the names of columns present in both shapes, in
// the declared table's order. Used to copy rows during a full rebuild.
func CommonColumns(declared, live *Table) []string {
	liveCols := make(map[string]bool, len(live.Columns))
	for _, c := range live.Columns {
		liveCols[c.Name] = true
	}
	var common []string
	for _, c := range declared.Columns {
		if liveCols[c.Name] {
			common = append(common, c.Name)
		}
	}
	return common
}
