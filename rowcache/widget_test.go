// SPDX-License-Identifier: GPL-2.0-or-later

package rowcache_test

import (
	"context"
	"fmt"

	"github.com/arnegray/rowcache/internal/rdb"
	"github.com/arnegray/rowcache/rowcache"
)

// widget is a minimal Entity used across this package's tests: a single
// exclusive table, no class hierarchy, two plain fields.
type widget struct {
	Name string
	Qty  int64
}

const widgetDDL = `CREATE TABLE widgets(
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	qty  INTEGER NOT NULL
)`

func newWidget() *widget { return &widget{} }

func (w *widget) PrimaryTableName() string   { return "widgets" }
func (w *widget) ExclusiveTableName() string { return "widgets" }
func (w *widget) PrimaryKeyName() string     { return "id" }

func (w *widget) Load(ctx context.Context, conn *rowcache.Connection, id int64) error {
	st, err := conn.Lease(ctx, "SELECT name, qty FROM widgets WHERE id = :id")
	if err != nil {
		return err
	}
	defer conn.Release(st)

	if err := st.Bind("id", id); err != nil {
		return err
	}
	res, err := st.Step(ctx)
	if err != nil {
		return err
	}
	if res == rdb.Done {
		return fmt.Errorf("widget %d: no such row", id)
	}

	name, err := st.ExtractText(0)
	if err != nil {
		return err
	}
	qty, err := st.ExtractInt64(1)
	if err != nil {
		return err
	}
	w.Name = name
	w.Qty = qty
	return nil
}

func (w *widget) SaveNew(ctx context.Context, conn *rowcache.Connection, id int64) error {
	st, err := conn.Lease(ctx, "INSERT INTO widgets(id, name, qty) VALUES (:id, :name, :qty)")
	if err != nil {
		return err
	}
	defer conn.Release(st)

	if err := st.Bind("id", id); err != nil {
		return err
	}
	if err := st.Bind("name", w.Name); err != nil {
		return err
	}
	if err := st.Bind("qty", w.Qty); err != nil {
		return err
	}
	return st.StepFinal(ctx)
}

func (w *widget) SaveExisting(ctx context.Context, conn *rowcache.Connection, id int64) error {
	st, err := conn.Lease(ctx, "UPDATE widgets SET name = :name, qty = :qty WHERE id = :id")
	if err != nil {
		return err
	}
	defer conn.Release(st)

	if err := st.Bind("id", id); err != nil {
		return err
	}
	if err := st.Bind("name", w.Name); err != nil {
		return err
	}
	if err := st.Bind("qty", w.Qty); err != nil {
		return err
	}
	return st.StepFinal(ctx)
}

func (w *widget) Ghostify() {
	w.Name = ""
	w.Qty = 0
}

func (w *widget) Snapshot() any {
	cp := *w
	return &cp
}

func (w *widget) Restore(snapshot any) {
	cp := snapshot.(*widget)
	*w = *cp
}
