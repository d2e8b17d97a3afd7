// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface holds the error taxonomy shared between the
// low-level connection layer (internal/rdb) and the identity-map layer
// (package rowcache), so neither has to import the other just to
// classify an error.
package dbinterface

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// Kind classifies an Error the way callers are expected to branch on it.
// It mirrors the engine's extended result codes where the failure
// originates there, and adds the handful of kinds that are native to this
// layer (statement-text shape, result-extraction mismatches, lifecycle
// misuse).
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidConnection
	KindSQLiteError
	KindConstraintViolation
	KindBusy
	KindReadOnly
	KindTooManyStatements
	KindValueTypeError
	KindResultIndexOutOfRange
	KindNoResultRow
	KindUnexpectedResultRow
	KindUnboundHandle
	KindOverflowError
	KindTransactionNestingError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidConnection:
		return "InvalidConnection"
	case KindSQLiteError:
		return "SQLiteError"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindBusy:
		return "Busy"
	case KindReadOnly:
		return "ReadOnly"
	case KindTooManyStatements:
		return "TooManyStatements"
	case KindValueTypeError:
		return "ValueTypeError"
	case KindResultIndexOutOfRange:
		return "ResultIndexOutOfRange"
	case KindNoResultRow:
		return "NoResultRow"
	case KindUnexpectedResultRow:
		return "UnexpectedResultRow"
	case KindUnboundHandle:
		return "UnboundHandle"
	case KindOverflowError:
		return "OverflowError"
	case KindTransactionNestingError:
		return "TransactionNestingError"
	default:
		return "Unknown"
	}
}

// Error is the error type returned across the whole rdb/rowcache
// boundary. It always carries a Kind and, when it wraps a lower-level
// failure, the original error via Unwrap.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func New(kind Kind, msg string) error {
	return pkgerrors.WithStack(&Error{Kind: kind, msg: msg})
}

func Newf(kind Kind, format string, args ...any) error {
	return pkgerrors.WithStack(&Error{Kind: kind, msg: fmt.Sprintf(format, args...)})
}

func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(&Error{Kind: kind, msg: msg, err: err})
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// KindOf extracts the Kind from err, walking Unwrap chains. It returns
// KindUnknown for errors that were never classified here.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Classify maps a raw engine error onto a Kind, following the same
// extended-result-code dispatch used for SQLite/Postgres error pairs
// elsewhere in the dependency graph: inspect the driver-specific error
// type, fall back to a generic SQLiteError when the extended code isn't
// one of the ones we special-case.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		code := sqlErr.Code()
		switch code {
		case sqlitelib.SQLITE_CONSTRAINT_UNIQUE,
			sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY,
			sqlitelib.SQLITE_CONSTRAINT_CHECK,
			sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY,
			sqlitelib.SQLITE_CONSTRAINT_NOTNULL:
			return KindConstraintViolation
		}
		switch code & 0xff {
		case sqlitelib.SQLITE_BUSY:
			return KindBusy
		case sqlitelib.SQLITE_READONLY:
			return KindReadOnly
		case sqlitelib.SQLITE_CONSTRAINT:
			return KindConstraintViolation
		}
		return KindSQLiteError
	}

	return KindSQLiteError
}

// WrapEngine classifies a raw engine error and wraps it with that Kind.
func WrapEngine(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Wrap(Classify(err), err, msg)
}

// IsBusy reports whether err (or anything it wraps) classifies as Busy —
// the condition avast/retry-go backoff is applied for.
func IsBusy(err error) bool {
	return KindOf(err) == KindBusy
}
