// SPDX-License-Identifier: GPL-2.0-or-later

package rdb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnegray/rowcache/internal/dbinterface"
	"github.com/arnegray/rowcache/internal/rdb"
	"github.com/arnegray/rowcache/internal/testdb"
)

func TestTxCoordinator_CommitPersists(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	require.NoError(t, conn.Tx().Begin(ctx))
	require.NoError(t, conn.ExecuteSQL(ctx, "INSERT INTO dummy(col_B, col_C) VALUES ('Hello!!!', 'X')"))
	require.NoError(t, conn.Tx().Commit(ctx))

	st, err := conn.Lease(ctx, "SELECT count(*) FROM dummy")
	require.NoError(t, err)
	_, err = st.Step(ctx)
	require.NoError(t, err)
	n, err := st.ExtractInt64(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	conn.Release(st)
}

func TestTxCoordinator_CancelRollsBack(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	require.NoError(t, conn.Tx().Begin(ctx))
	require.NoError(t, conn.ExecuteSQL(ctx, "INSERT INTO dummy(col_B) VALUES ('Bye!')"))
	require.NoError(t, conn.Tx().Cancel(ctx))

	st, err := conn.Lease(ctx, "SELECT count(*) FROM dummy")
	require.NoError(t, err)
	_, err = st.Step(ctx)
	require.NoError(t, err)
	n, err := st.ExtractInt64(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	conn.Release(st)
}

func TestTxCoordinator_NestedSavepointRollsBackInnerOnly(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	require.NoError(t, conn.Tx().Begin(ctx))
	require.NoError(t, conn.ExecuteSQL(ctx, "INSERT INTO dummy(col_B) VALUES ('outer')"))

	require.NoError(t, conn.Tx().Begin(ctx))
	require.NoError(t, conn.ExecuteSQL(ctx, "INSERT INTO dummy(col_B) VALUES ('inner')"))
	require.NoError(t, conn.Tx().Cancel(ctx))

	require.NoError(t, conn.Tx().Commit(ctx))

	st, err := conn.Lease(ctx, "SELECT col_B FROM dummy")
	require.NoError(t, err)
	res, err := st.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, rdb.Row, res)
	v, err := st.ExtractText(0)
	require.NoError(t, err)
	assert.Equal(t, "outer", v)

	res, err = st.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, rdb.Done, res)
	conn.Release(st)
}

func TestTxCoordinator_CommitWithoutBeginFails(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	err := conn.Tx().Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, dbinterface.KindTransactionNestingError, dbinterface.KindOf(err))
}

func TestTxCoordinator_RollbackCallbacksRunInReverseOrder(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	var order []int
	require.NoError(t, conn.Tx().Begin(ctx))
	conn.Tx().Register(func() { order = append(order, 1) })
	conn.Tx().Register(func() { order = append(order, 2) })
	conn.Tx().Register(func() { order = append(order, 3) })
	require.NoError(t, conn.Tx().Cancel(ctx))

	assert.Equal(t, []int{3, 2, 1}, order)
}
