package conn

import (
	"database/sql/driver"

	"github.com/larder-db/larder/value"
)

// NamedArg binds a value to a :name, @name or $name parameter.
type NamedArg struct {
	Name  string
	Value any
}

// Named returns a NamedArg for use in an argument list.
func Named(name string, v any) NamedArg {
	return NamedArg{Name: name, Value: v}
}

// bindArgs normalizes an argument list into driver values, positionally or
// by name. Values pass through the value codec so plain Go types (int,
// bool, time.Time, value.Value) bind consistently.
func bindArgs(sql string, args []any) ([]driver.NamedValue, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]driver.NamedValue, len(args))
	for i, a := range args {
		nv := driver.NamedValue{Ordinal: i + 1}
		if na, ok := a.(NamedArg); ok {
			nv.Name = na.Name
			a = na.Value
		}
		v, err := value.FromDriver(a)
		if err != nil {
			return nil, &QueryError{SQL: sql, Err: err}
		}
		nv.Value = v.Driver()
		out[i] = nv
	}
	return out, nil
}
