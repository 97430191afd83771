package conn

import (
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("conn: database is closed")

	// ErrDestinationExists is returned by BackupTo when the destination
	// path already exists.
	ErrDestinationExists = errors.New("conn: backup destination already exists")

	// ErrNamedArgsUnsupported is returned when named arguments are passed
	// to a statement interface that only accepts positional binding.
	ErrNamedArgsUnsupported = errors.New("conn: named arguments not supported by this statement")
)

// QueryError reports a failure to prepare or bind a statement: a syntax
// error, an unknown column, or an unbindable argument.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("conn: query %q: %v", e.SQL, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ExecKind distinguishes runtime failure classes callers commonly branch
// on.
type ExecKind int

const (
	// KindGeneric is any runtime failure without a more specific kind.
	KindGeneric ExecKind = iota
	// KindUniqueConstraint is a UNIQUE or PRIMARY KEY constraint
	// violation.
	KindUniqueConstraint
)

// ExecError reports a runtime failure while executing a prepared
// statement.
type ExecError struct {
	SQL  string
	Kind ExecKind
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("conn: execute %q: %v", e.SQL, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// IsUniqueConstraint reports whether err is an ExecError caused by a
// unique or primary key constraint violation.
func IsUniqueConstraint(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee) && ee.Kind == KindUniqueConstraint
}

func newExecError(sql string, err error) *ExecError {
	kind := KindGeneric
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			kind = KindUniqueConstraint
		}
	}
	return &ExecError{SQL: sql, Kind: kind, Err: err}
}
