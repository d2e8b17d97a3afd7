// SPDX-License-Identifier: GPL-2.0-or-later

package rdb

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/arnegray/rowcache/internal/dbinterface"
)

// RollbackFunc is registered against the currently open transaction (or
// savepoint) and run, in reverse registration order, if that level is
// cancelled. Object saves use this to snap in-memory fields back to a
// pre-save snapshot.
type RollbackFunc func()

type rollbackFrame struct {
	callbacks []RollbackFunc
}

// TxCoordinator is a nested savepoint stack over a single connection:
// depth 0 -> 1 issues BEGIN; every deeper level issues a named
// SAVEPOINT. A poisoned transaction refuses Commit and forces Cancel at
// every enclosing level.
type TxCoordinator struct {
	conn     *Connection
	depth    int
	frames   []*rollbackFrame
	poisoned bool
}

func newTxCoordinator(conn *Connection) *TxCoordinator {
	return &TxCoordinator{conn: conn}
}

// Depth reports the current nesting depth (0 means no transaction open).
func (tc *TxCoordinator) Depth() int { return tc.depth }

// Poisoned reports whether the outermost transaction has been marked
// unrecoverable.
func (tc *TxCoordinator) Poisoned() bool { return tc.poisoned }

func (tc *TxCoordinator) savepointName() string {
	return fmt.Sprintf("sp_%d", tc.depth)
}

// Begin opens a new nesting level: BEGIN at depth 0, SAVEPOINT beyond it.
func (tc *TxCoordinator) Begin(ctx context.Context) error {
	var sql string
	if tc.depth == 0 {
		sql = "BEGIN"
	} else {
		sql = "SAVEPOINT " + tc.savepointName()
	}

	if err := tc.conn.ExecuteSQL(ctx, sql); err != nil {
		return dbinterface.Wrap(dbinterface.KindTransactionNestingError, err, "begin")
	}

	tc.depth++
	tc.frames = append(tc.frames, &rollbackFrame{})
	return nil
}

// Register attaches fn to the currently open nesting level's rollback
// frame. It is a no-op outside any transaction — callers that need
// rollback semantics must already have called Begin.
func (tc *TxCoordinator) Register(fn RollbackFunc) {
	if len(tc.frames) == 0 {
		return
	}
	top := tc.frames[len(tc.frames)-1]
	top.callbacks = append(top.callbacks, fn)
}

// Commit closes the current nesting level. At depth 1 -> 0 this issues
// COMMIT and discards every rollback frame; otherwise it issues RELEASE
// SAVEPOINT and merges this level's rollback frame into the enclosing
// one, so a later Cancel of an outer level still unwinds inner changes.
// Commit on a poisoned transaction always fails and forces the caller to
// Cancel instead.
func (tc *TxCoordinator) Commit(ctx context.Context) error {
	if tc.depth == 0 {
		return dbinterface.New(dbinterface.KindTransactionNestingError, "commit without a matching begin")
	}
	if tc.poisoned {
		return dbinterface.New(dbinterface.KindTransactionNestingError, "commit on a poisoned transaction")
	}

	if tc.depth == 1 {
		if err := tc.conn.ExecuteSQL(ctx, "COMMIT"); err != nil {
			tc.poison()
			return dbinterface.Wrap(dbinterface.KindTransactionNestingError, err, "commit")
		}
		tc.frames = nil
		tc.depth = 0
		return nil
	}

	tc.depth--
	if err := tc.conn.ExecuteSQL(ctx, "RELEASE SAVEPOINT "+tc.savepointName()); err != nil {
		tc.depth++
		tc.poison()
		return dbinterface.Wrap(dbinterface.KindTransactionNestingError, err, "release savepoint")
	}

	inner := tc.frames[len(tc.frames)-1]
	tc.frames = tc.frames[:len(tc.frames)-1]
	outer := tc.frames[len(tc.frames)-1]
	outer.callbacks = append(outer.callbacks, inner.callbacks...)
	return nil
}

// Cancel rolls back the current nesting level: ROLLBACK at depth 1, or
// ROLLBACK TO SAVEPOINT + RELEASE beyond it. It then pops the level's
// rollback frame and runs its callbacks in reverse registration order, so
// in-memory object state matches what Cancel leaves on disk.
func (tc *TxCoordinator) Cancel(ctx context.Context) error {
	if tc.depth == 0 {
		return dbinterface.New(dbinterface.KindTransactionNestingError, "cancel without a matching begin")
	}

	var err error
	if tc.depth == 1 {
		err = tc.conn.ExecuteSQL(ctx, "ROLLBACK")
		tc.depth = 0
	} else {
		tc.depth--
		name := tc.savepointName()
		if rbErr := tc.conn.ExecuteSQL(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			err = rbErr
		} else {
			err = tc.conn.ExecuteSQL(ctx, "RELEASE "+name)
		}
	}

	frame := tc.frames[len(tc.frames)-1]
	tc.frames = tc.frames[:len(tc.frames)-1]
	if tc.depth == 0 {
		tc.poisoned = false
	}

	for i := len(frame.callbacks) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("rollback callback panicked")
				}
			}()
			frame.callbacks[i]()
		}()
	}

	if err != nil {
		return dbinterface.Wrap(dbinterface.KindTransactionNestingError, err, "cancel")
	}
	return nil
}

// poison marks the outermost transaction unrecoverable: every enclosing
// level must Cancel, none may Commit.
func (tc *TxCoordinator) poison() {
	tc.poisoned = true
	log.Warn().Msg("transaction poisoned by an unrecoverable engine error; commit is now refused at every nesting level")
}

// InTransaction reports whether any nesting level is currently open.
func (tc *TxCoordinator) InTransaction() bool { return tc.depth > 0 }
