// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"

	"github.com/arnegray/rowcache/internal/rdb"
	"github.com/arnegray/rowcache/rowcache"
)

// widget is a minimal Entity demonstrating the library surface: a
// single exclusive table, no class hierarchy.
type widget struct {
	Name string
	Qty  int64
}

const widgetDDL = `CREATE TABLE IF NOT EXISTS widgets(
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
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
	if _, err := st.Step(ctx); err != nil {
		return err
	}
	name, err := st.ExtractText(0)
	if err != nil {
		return err
	}
	qty, err := st.ExtractInt64(1)
	if err != nil {
		return err
	}
	w.Name, w.Qty = name, qty
	return nil
}

func (w *widget) SaveNew(ctx context.Context, conn *rowcache.Connection, id int64) error {
	st, err := conn.Lease(ctx, "INSERT INTO widgets(id, name, qty) VALUES (:id, :name, :qty)")
	if err != nil {
		return err
	}
	defer conn.Release(st)

	return bindWidget(st, id, w).StepFinal(ctx)
}

func (w *widget) SaveExisting(ctx context.Context, conn *rowcache.Connection, id int64) error {
	st, err := conn.Lease(ctx, "UPDATE widgets SET name = :name, qty = :qty WHERE id = :id")
	if err != nil {
		return err
	}
	defer conn.Release(st)

	return bindWidget(st, id, w).StepFinal(ctx)
}

func bindWidget(st *rdb.Statement, id int64, w *widget) *rdb.Statement {
	_ = st.Bind("id", id)
	_ = st.Bind("name", w.Name)
	_ = st.Bind("qty", w.Qty)
	return st
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
	*w = *snapshot.(*widget)
}
