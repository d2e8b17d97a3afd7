// SPDX-License-Identifier: GPL-2.0-or-later

package rowcache

import "github.com/arnegray/rowcache/internal/dbinterface"

// Kind classifies every error this package returns.
type Kind = dbinterface.Kind

const (
	KindUnknown                 = dbinterface.KindUnknown
	KindInvalidConnection       = dbinterface.KindInvalidConnection
	KindSQLiteError             = dbinterface.KindSQLiteError
	KindConstraintViolation     = dbinterface.KindConstraintViolation
	KindBusy                    = dbinterface.KindBusy
	KindReadOnly                = dbinterface.KindReadOnly
	KindTooManyStatements       = dbinterface.KindTooManyStatements
	KindValueTypeError          = dbinterface.KindValueTypeError
	KindResultIndexOutOfRange   = dbinterface.KindResultIndexOutOfRange
	KindNoResultRow             = dbinterface.KindNoResultRow
	KindUnexpectedResultRow     = dbinterface.KindUnexpectedResultRow
	KindUnboundHandle           = dbinterface.KindUnboundHandle
	KindOverflowError           = dbinterface.KindOverflowError
	KindTransactionNestingError = dbinterface.KindTransactionNestingError
)

// KindOf extracts the Kind from err, walking its Unwrap chain. It
// returns KindUnknown for an error this package never classified.
func KindOf(err error) Kind {
	return dbinterface.KindOf(err)
}
