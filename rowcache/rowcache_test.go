// SPDX-License-Identifier: GPL-2.0-or-later

package rowcache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnegray/rowcache/internal/rdb"
	"github.com/arnegray/rowcache/rowcache"
)

func openWidgets(t *testing.T) *rowcache.Connection {
	t.Helper()
	ctx := context.Background()
	conn, err := rowcache.Open(ctx, t.TempDir()+"/widgets.db", rdb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.ExecuteSQL(ctx, widgetDDL))
	return conn
}

// a saved object, loaded fresh by id, carries the same field values it
// had at save time.
func TestRoundTrip_SaveThenLoad(t *testing.T) {
	ctx := context.Background()
	conn := openWidgets(t)

	h, err := rowcache.New[*widget](conn, newWidget)
	require.NoError(t, err)
	defer h.Release()

	w, err := h.Entity(ctx)
	require.NoError(t, err)
	w.Name = "bolt"
	w.Qty = 42
	h.MarkDirty()

	id, err := h.Save(ctx)
	require.NoError(t, err)

	h2, err := rowcache.Fetch[*widget](conn, newWidget, id)
	require.NoError(t, err)
	defer h2.Release()

	// Fetch returns the cached object; ghostify it so Entity reloads the
	// row from the database.
	h2.Ghostify()
	loaded, err := h2.Entity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bolt", loaded.Name)
	assert.Equal(t, int64(42), loaded.Qty)
}

// two handles to the same new object compare equal, their handle count
// is tracked, and the orphan cache revives the object after both are
// released and it is fetched again.
func TestHandle_DedupAndOrphanRevival(t *testing.T) {
	ctx := context.Background()
	conn := openWidgets(t)

	h1, err := rowcache.New[*widget](conn, newWidget)
	require.NoError(t, err)

	w, err := h1.Entity(ctx)
	require.NoError(t, err)
	w.Name = "nut"
	w.Qty = 1
	h1.MarkDirty()

	id, err := h1.Save(ctx)
	require.NoError(t, err)

	h2, err := rowcache.Fetch[*widget](conn, newWidget, id)
	require.NoError(t, err)

	assert.True(t, h1.Equal(h2))
	assert.Same(t, h1.Ptr(), h2.Ptr())
	original := h1.Ptr()

	h1.Release()
	// h2 alone still keeps the object live.
	_, err = h2.Entity(ctx)
	require.NoError(t, err)

	h2.Release()

	// Both released: the object rests in the orphan cache. A fresh
	// Fetch for the same id revives the exact same pointer rather than
	// constructing a new entity.
	h3, err := rowcache.Fetch[*widget](conn, newWidget, id)
	require.NoError(t, err)
	defer h3.Release()
	assert.Same(t, original, h3.Ptr())
}

// a constraint violation on save restores fields from the pre-save
// snapshot and leaves the object Dirty, ready to retry.
func TestSave_RestoresSnapshotOnFailure(t *testing.T) {
	ctx := context.Background()
	conn := openWidgets(t)

	seed, err := rowcache.New[*widget](conn, newWidget)
	require.NoError(t, err)
	sw, err := seed.Entity(ctx)
	require.NoError(t, err)
	sw.Name = "washer"
	sw.Qty = 5
	seed.MarkDirty()
	_, err = seed.Save(ctx)
	require.NoError(t, err)
	seed.Release()

	dup, err := rowcache.New[*widget](conn, newWidget)
	require.NoError(t, err)
	defer dup.Release()

	dw, err := dup.Entity(ctx)
	require.NoError(t, err)
	dw.Name = "washer" // violates the UNIQUE constraint on name
	dw.Qty = 9

	_, err = dup.Save(ctx)
	require.Error(t, err)
	assert.Equal(t, rowcache.KindConstraintViolation, rowcache.KindOf(err))

	after, err := dup.Entity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "washer", after.Name)
	assert.Equal(t, int64(9), after.Qty)
}

func TestCursor_MaterializesHandlesInOrder(t *testing.T) {
	ctx := context.Background()
	conn := openWidgets(t)

	for _, name := range []string{"a", "b", "c"} {
		h, err := rowcache.New[*widget](conn, newWidget)
		require.NoError(t, err)
		w, err := h.Entity(ctx)
		require.NoError(t, err)
		w.Name = name
		w.Qty = 1
		h.MarkDirty()
		_, err = h.Save(ctx)
		require.NoError(t, err)
		h.Release()
	}

	cur, err := rowcache.NewCursor[*widget](ctx, conn, newWidget, "SELECT id FROM widgets ORDER BY id", 0)
	require.NoError(t, err)

	handles, err := rowcache.LoadAll[*widget](ctx, cur)
	require.NoError(t, err)
	require.Len(t, handles, 3)

	var names []string
	for _, h := range handles {
		w, err := h.Entity(ctx)
		require.NoError(t, err)
		names = append(names, w.Name)
		h.Release()
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestWithinTransaction_CancelsOnError(t *testing.T) {
	ctx := context.Background()
	conn := openWidgets(t)

	err := conn.WithinTransaction(ctx, func() error {
		require.NoError(t, conn.ExecuteSQL(ctx, "INSERT INTO widgets(id, name, qty) VALUES (1, 'x', 1)"))
		return assert.AnError
	})
	require.Error(t, err)

	n, err := rowcache.Count(ctx, conn, "SELECT id FROM widgets")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
