// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb gives tests a throwaway SQLite-backed Connection.
package testdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/arnegray/rowcache/internal/rdb"
)

// Open returns a fresh *rdb.Connection backed by a file under t.TempDir,
// applies ddl (typically one or more CREATE TABLE statements), and
// registers a cleanup to close it.
func Open(t *testing.T, ddl ...string) *rdb.Connection {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := rdb.Open(context.Background(), path, rdb.Options{})
	if err != nil {
		t.Fatalf("open test connection: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	for _, stmt := range ddl {
		if err := conn.ExecuteSQL(context.Background(), stmt); err != nil {
			t.Fatalf("apply ddl %q: %v", stmt, err)
		}
	}

	return conn
}

// Path returns a throwaway database file path under t.TempDir without
// opening it, for tests that need to reopen the same file themselves
// (e.g. crash-recovery scenarios).
func Path(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}
