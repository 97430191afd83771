package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry remembers which declared tables have been resolved against one
// database instance. Each DB owns exactly one Registry; it is never global
// state.
//
// Binding two structurally different declared tables to the same table
// name is a programming mistake, not a runtime condition, and panics.
type Registry struct {
	mu       sync.Mutex
	resolved map[uint64]bool   // structural hash -> resolved
	bound    map[string]uint64 // table name -> structural hash
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		resolved: make(map[uint64]bool),
		bound:    make(map[string]uint64),
	}
}

// Resolved reports whether t has already been resolved against this
// instance.
func (r *Registry) Resolved(t *Table) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved[t.StructuralHash()]
}

// AssertBindable panics if a structurally different table already claimed
// t's name in this instance. Called before any migration work so a
// conflicting declaration fails fast instead of migrating the table out
// from under its first binder.
func (r *Registry) AssertBindable(t *Table) {
	h := t.StructuralHash()
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.bound[t.Name]; ok && prev != h {
		panic(fmt.Sprintf(
			"schema: two different table declarations bound to %q in the same database instance",
			t.Name))
	}
}

// MarkResolved records that t has been reconciled with the live database.
// It panics if a structurally different table already claimed the same
// table name.
func (r *Registry) MarkResolved(t *Table) {
	h := t.StructuralHash()
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.bound[t.Name]; ok && prev != h {
		panic(fmt.Sprintf(
			"schema: two different table declarations bound to %q in the same database instance",
			t.Name))
	}
	r.bound[t.Name] = h
	r.resolved[h] = true
}

// BoundTables returns the names of all tables bound in this instance,
// sorted.
func (r *Registry) BoundTables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.bound))
	for name := range r.bound {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
