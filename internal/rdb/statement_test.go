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

const dummyDDL = `CREATE TABLE dummy(
	col_A INTEGER PRIMARY KEY AUTOINCREMENT,
	col_B TEXT NOT NULL,
	col_C TEXT,
	col_D INTEGER,
	col_E REAL
)`

func TestStatement_RejectsMultipleStatements(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	_, err := conn.Lease(ctx, "insert into dummy(col_B) values('x'); insert into dummy(col_B) values('y')")
	require.Error(t, err)
	assert.Equal(t, dbinterface.KindTooManyStatements, dbinterface.KindOf(err))

	st, err := conn.Lease(ctx, "insert into dummy(col_B) values('x');   ;  ")
	require.NoError(t, err)
	conn.Release(st)
}

func TestStatement_UnsyntacticalTextFails(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	_, err := conn.Lease(ctx, "unsyntactical gobbledigook")
	require.Error(t, err)
	assert.Equal(t, dbinterface.KindSQLiteError, dbinterface.KindOf(err))
}

func TestStatement_BindAndExtract(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	ins, err := conn.Lease(ctx, "INSERT INTO dummy(col_B, col_C, col_D, col_E) VALUES (:b, :c, :d, :e)")
	require.NoError(t, err)
	require.NoError(t, ins.Bind("b", "hello"))
	require.NoError(t, ins.Bind("c", "30"))
	require.NoError(t, ins.Bind("d", int64(999999983)))
	require.NoError(t, ins.Bind("e", -20987.9873))
	require.NoError(t, ins.StepFinal(ctx))
	conn.Release(ins)

	sel, err := conn.Lease(ctx, "SELECT col_D, col_E FROM dummy WHERE col_A = :id")
	require.NoError(t, err)
	require.NoError(t, sel.Bind("id", int64(1)))
	res, err := sel.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, rdb.Row, res)

	d, err := sel.ExtractInt64(0)
	require.NoError(t, err)
	assert.Equal(t, int64(999999983), d)

	e, err := sel.ExtractFloat64(1)
	require.NoError(t, err)
	assert.Equal(t, -20987.9873, e)

	done, err := sel.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, rdb.Done, done)
	conn.Release(sel)
}

func TestStatement_WrongTypeExtractThenCorrectType(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	ins, err := conn.Lease(ctx, "INSERT INTO dummy(col_B, col_D) VALUES ('x', :d)")
	require.NoError(t, err)
	require.NoError(t, ins.Bind("d", int64(42)))
	require.NoError(t, ins.StepFinal(ctx))
	conn.Release(ins)

	sel, err := conn.Lease(ctx, "SELECT col_D FROM dummy WHERE col_A = 1")
	require.NoError(t, err)
	res, err := sel.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, rdb.Row, res)

	_, err = sel.ExtractText(0)
	require.Error(t, err)
	assert.Equal(t, dbinterface.KindValueTypeError, dbinterface.KindOf(err))

	v, err := sel.ExtractInt64(0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	conn.Release(sel)
}

func TestStatement_StepCyclesOnReuse(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	ins, err := conn.Lease(ctx, "INSERT INTO dummy(col_B) VALUES (:b)")
	require.NoError(t, err)
	for _, v := range []string{"a", "b"} {
		require.NoError(t, ins.Bind("b", v))
		require.NoError(t, ins.StepFinal(ctx))
	}
	conn.Release(ins)

	sel, err := conn.Lease(ctx, "SELECT col_B FROM dummy ORDER BY col_A")
	require.NoError(t, err)

	var seq []bool
	for i := 0; i < 5; i++ {
		res, err := sel.Step(ctx)
		require.NoError(t, err)
		seq = append(seq, res == rdb.Row)
	}
	assert.Equal(t, []bool{true, true, false, true, true}, seq)
	conn.Release(sel)
}

func TestStatement_StepFinalRejectsResultRow(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	ins, err := conn.Lease(ctx, "INSERT INTO dummy(col_B) VALUES ('x')")
	require.NoError(t, err)
	require.NoError(t, ins.StepFinal(ctx))
	conn.Release(ins)

	sel, err := conn.Lease(ctx, "SELECT col_B FROM dummy")
	require.NoError(t, err)
	err = sel.StepFinal(ctx)
	require.Error(t, err)
	assert.Equal(t, dbinterface.KindUnexpectedResultRow, dbinterface.KindOf(err))
	conn.Release(sel)
}

func TestStatement_UnknownBindParameter(t *testing.T) {
	ctx := context.Background()
	conn := testdb.Open(t, dummyDDL)

	st, err := conn.Lease(ctx, "SELECT * FROM dummy WHERE col_A = :id")
	require.NoError(t, err)
	err = st.Bind("nope", 1)
	require.Error(t, err)
	conn.Release(st)
}
