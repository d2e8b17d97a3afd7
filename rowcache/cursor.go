// SPDX-License-Identifier: GPL-2.0-or-later

package rowcache

import (
	"context"

	"github.com/arnegray/rowcache/internal/rdb"
)

// Cursor is a lazy, single-consumer iterator over query results:
// `for cur.Next(ctx) { ... }`. Each row materializes into a Handle[T]
// via CreateUnchecked — the primary key comes straight from the query,
// which is trusted rather than re-verified against the database.
type Cursor[T Entity] struct {
	conn      *Connection
	newEntity func() T
	pkIndex   int

	st      *rdb.Statement
	current Handle[T]
	err     error
	done    bool
}

// NewCursor prepares query (a `SELECT <pk>, ... FROM <table> ...` the
// caller writes, with the primary key in column pkIndex) and returns a
// Cursor that yields one Handle[T] per row, in result order.
func NewCursor[T Entity](ctx context.Context, conn *Connection, newEntity func() T, query string, pkIndex int) (*Cursor[T], error) {
	st, err := conn.Lease(ctx, query)
	if err != nil {
		return nil, err
	}
	return &Cursor[T]{conn: conn, newEntity: newEntity, pkIndex: pkIndex, st: st}, nil
}

// Bind attaches a named parameter to the cursor's underlying query. It
// must be called before the first Next.
func (c *Cursor[T]) Bind(name string, value any) error {
	return c.st.Bind(name, value)
}

// Next advances to the next row, returning false at end of results or
// on error (check Err to distinguish the two). The cursor releases its
// statement lease automatically once exhausted or on the first error.
func (c *Cursor[T]) Next(ctx context.Context) bool {
	if c.done {
		return false
	}

	res, err := c.st.Step(ctx)
	if err != nil {
		c.err = err
		c.close()
		return false
	}
	if res == rdb.Done {
		c.close()
		return false
	}

	id, err := c.st.ExtractInt64(c.pkIndex)
	if err != nil {
		c.err = err
		c.close()
		return false
	}

	h, err := CreateUnchecked[T](c.conn, c.newEntity, id)
	if err != nil {
		c.err = err
		c.close()
		return false
	}
	c.current = h
	return true
}

// Handle returns the Handle materialized by the most recent successful
// Next.
func (c *Cursor[T]) Handle() Handle[T] { return c.current }

// Err returns the error, if any, that stopped iteration early.
func (c *Cursor[T]) Err() error { return c.err }

// Close releases the cursor's underlying statement lease early. Safe to
// call after the cursor is already exhausted; a no-op in that case.
func (c *Cursor[T]) Close() { c.close() }

func (c *Cursor[T]) close() {
	if c.done {
		return
	}
	c.done = true
	c.conn.Release(c.st)
}

// Count drains a disposable cursor over query, returning the number of
// rows without materializing a single Handle — an eager-counting
// convenience supplementing Cursor, useful alongside the
// caching-enabled toggle around bulk operations.
func Count(ctx context.Context, conn *Connection, query string) (int64, error) {
	st, err := conn.Lease(ctx, query)
	if err != nil {
		return 0, err
	}
	defer conn.Release(st)

	var n int64
	for {
		res, err := st.Step(ctx)
		if err != nil {
			return 0, err
		}
		if res == rdb.Done {
			break
		}
		n++
	}
	return n, nil
}

// LoadAll eagerly buffers every remaining element of cur into a slice,
// kept as an explicit, separate convenience from the lazy Cursor it
// wraps.
func LoadAll[T Entity](ctx context.Context, cur *Cursor[T]) ([]Handle[T], error) {
	var out []Handle[T]
	for cur.Next(ctx) {
		out = append(out, cur.Handle())
	}
	if cur.Err() != nil {
		return nil, cur.Err()
	}
	return out, nil
}
