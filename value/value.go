// Package value implements the row/value codec shared by every layer of
// larder: a tagged union over SQLite's five storage classes and an ordered
// row representation materialized from query results.
package value

import (
	"fmt"
	"strconv"
	"time"
)

// Type identifies the storage class of a Value.
type Type int

const (
	TypeNull Type = iota
	TypeInteger
	TypeFloat
	TypeText
	TypeBlob
)

// String returns the SQLite name of the type.
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	case TypeText:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Value is a single SQLite column value: exactly one of null, integer,
// float, text, or blob.
type Value struct {
	typ Type
	i   int64
	f   float64
	s   string
	b   []byte
}

// Null returns the NULL value.
func Null() Value { return Value{typ: TypeNull} }

// Integer returns an INTEGER value.
func Integer(i int64) Value { return Value{typ: TypeInteger, i: i} }

// Float returns a REAL value.
func Float(f float64) Value { return Value{typ: TypeFloat, f: f} }

// Text returns a TEXT value.
func Text(s string) Value { return Value{typ: TypeText, s: s} }

// Blob returns a BLOB value. The byte slice is copied.
func Blob(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{typ: TypeBlob, b: cp}
}

// Bool returns an INTEGER value of 0 or 1.
func Bool(v bool) Value {
	if v {
		return Integer(1)
	}
	return Integer(0)
}

// Time returns a TEXT value holding t in RFC 3339 format with nanoseconds.
func Time(t time.Time) Value { return Text(t.UTC().Format(time.RFC3339Nano)) }

// Type returns the storage class of v.
func (v Value) Type() Type { return v.typ }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.typ == TypeNull }

// Int returns the integer payload. ok is false unless v is an INTEGER.
func (v Value) Int() (i int64, ok bool) { return v.i, v.typ == TypeInteger }

// Real returns the float payload. ok is false unless v is a REAL.
func (v Value) Real() (f float64, ok bool) { return v.f, v.typ == TypeFloat }

// Str returns the text payload. ok is false unless v is a TEXT.
func (v Value) Str() (s string, ok bool) { return v.s, v.typ == TypeText }

// Bytes returns the blob payload. ok is false unless v is a BLOB. The
// returned slice must not be modified.
func (v Value) Bytes() (b []byte, ok bool) { return v.b, v.typ == TypeBlob }

// Equal reports whether v and o hold the same type and payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeNull:
		return true
	case TypeInteger:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	case TypeText:
		return v.s == o.s
	case TypeBlob:
		return string(v.b) == string(o.b)
	}
	return false
}

// String renders v for logs and diagnostics.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeText:
		return strconv.Quote(v.s)
	case TypeBlob:
		return fmt.Sprintf("x'%x'", v.b)
	}
	return "?"
}

// Driver converts v into the value set accepted by database/sql drivers.
func (v Value) Driver() any {
	switch v.typ {
	case TypeInteger:
		return v.i
	case TypeFloat:
		return v.f
	case TypeText:
		return v.s
	case TypeBlob:
		return v.b
	}
	return nil
}

// FromDriver converts a value produced or accepted by the SQLite driver
// into a Value. Blobs are copied because drivers may reuse their buffers
// between rows.
func FromDriver(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case int64:
		return Integer(x), nil
	case int:
		return Integer(int64(x)), nil
	case int32:
		return Integer(int64(x)), nil
	case float64:
		return Float(x), nil
	case float32:
		return Float(float64(x)), nil
	case string:
		return Text(x), nil
	case []byte:
		return Blob(x), nil
	case bool:
		return Bool(x), nil
	case time.Time:
		return Time(x), nil
	case Value:
		return x, nil
	}
	return Value{}, fmt.Errorf("value: unsupported type %T", v)
}

// Row is one materialized query result row: column names in result order
// and the value for each.
type Row struct {
	Columns []string
	Values  []Value
}

// Get returns the value of the named column. ok is false when the row has
// no such column.
func (r Row) Get(column string) (Value, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return Value{}, false
}

// Has reports whether the row contains the named column.
func (r Row) Has(column string) bool {
	_, ok := r.Get(column)
	return ok
}
