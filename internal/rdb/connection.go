// SPDX-License-Identifier: GPL-2.0-or-later

package rdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/arnegray/rowcache/internal/dbinterface"
)

const (
	defaultBusyTimeout    = 5 * time.Second
	defaultStatementTTL   = 5 * time.Minute
	connectionSetupWindow = 5 * time.Second
)

// Options configures Connection.Open beyond the bare file path.
type Options struct {
	// BusyTimeout is the PRAGMA busy_timeout applied on open.
	BusyTimeout time.Duration
	// StatementTTL bounds how long an idle prepared statement is kept
	// before StatementCache closes it. Zero uses defaultStatementTTL.
	StatementTTL time.Duration
	// RetryAttempts bounds how many times a SQLITE_BUSY is retried with
	// backoff before the error is surfaced to the caller.
	RetryAttempts uint
	// Tracer, when non-nil, wraps StatementCache.Lease (and, one layer
	// up, object saves) with spans, following the same
	// tracer.Start(ctx, "...", trace.WithAttributes(...))/defer span.End()
	// shape gorp's statement cache uses. Left nil, tracing is skipped
	// entirely rather than resolving to a no-op tracer, avoiding a span
	// allocation on every Lease for callers who never configured one.
	Tracer trace.Tracer
}

func (o Options) withDefaults() Options {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = defaultBusyTimeout
	}
	if o.StatementTTL <= 0 {
		o.StatementTTL = defaultStatementTTL
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	return o
}

// Connection owns the open database handle, its statement cache, and
// its transaction coordinator. A Connection (and everything hanging off
// it) must be touched by at most one goroutine at a time; concurrent
// access from multiple goroutines is undefined, so this type makes no
// attempt to support it.
type Connection struct {
	db     *sql.DB
	path   string
	opts   Options
	stmts  *StatementCache
	tx     *TxCoordinator
	tracer trace.Tracer
	valid  bool
	closed bool
}

// Tracer returns the connection's configured tracer, or nil if none was
// set in Options.
func (c *Connection) Tracer() trace.Tracer { return c.tracer }

// Open opens the database file at path, applies the connection pragmas
// (WAL, foreign_keys on, busy_timeout), and returns a ready Connection.
// It fails if path is empty or the engine refuses to open it; opening an
// already-open Connection is a programming error the caller must avoid
// by constructing a fresh Connection per file.
func Open(ctx context.Context, path string, opts Options) (*Connection, error) {
	if path == "" {
		return nil, dbinterface.New(dbinterface.KindInvalidConnection, "empty database path")
	}
	opts = opts.withDefaults()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dbinterface.WrapEngine(err, "open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	setupCtx, cancel := context.WithTimeout(ctx, connectionSetupWindow)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(opts.BusyTimeout/time.Millisecond)),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(setupCtx, p); err != nil {
			db.Close()
			return nil, dbinterface.WrapEngine(err, fmt.Sprintf("apply pragma %q", p))
		}
	}

	conn := &Connection{db: db, path: path, opts: opts, tracer: opts.Tracer, valid: true}
	conn.tx = newTxCoordinator(conn)
	conn.stmts = NewStatementCache(conn, opts.StatementTTL)

	log.Info().Str("path", path).Msg("connection opened")
	return conn, nil
}

// IsValid reports whether the connection is open.
func (c *Connection) IsValid() bool { return c.valid && !c.closed }

func (c *Connection) requireValid() error {
	if !c.IsValid() {
		return dbinterface.New(dbinterface.KindInvalidConnection, "operation on an unopened or closed connection")
	}
	return nil
}

// Tx returns the connection's transaction coordinator.
func (c *Connection) Tx() *TxCoordinator { return c.tx }

// Statements returns the connection's statement cache.
func (c *Connection) Statements() *StatementCache { return c.stmts }

// ExecuteSQL is the prepare-step-finalize convenience for DDL and
// one-shot DML — no caching, no retry beyond a single busy-retry pass.
func (c *Connection) ExecuteSQL(ctx context.Context, text string) error {
	if err := c.requireValid(); err != nil {
		return err
	}
	return c.execWithBusyRetry(ctx, func() error {
		_, err := c.db.ExecContext(ctx, text)
		return err
	})
}

// NextAutoincrementID reads the next id the engine will hand out for
// table's autoincrement primary key, without inserting a row. The
// caller reserves this id in the identity map's by-id table before the
// INSERT completes, so a concurrent Fetch for the same id collapses
// onto the same in-flight object.
func (c *Connection) NextAutoincrementID(ctx context.Context, table string) (int64, error) {
	if err := c.requireValid(); err != nil {
		return 0, err
	}

	var seq sql.NullInt64
	err := c.execWithBusyRetryResult(ctx, func() error {
		row := c.db.QueryRowContext(ctx, "SELECT seq FROM sqlite_sequence WHERE name = ?", table)
		return row.Scan(&seq)
	})
	if err != nil && err != sql.ErrNoRows {
		return 0, dbinterface.WrapEngine(err, "read sqlite_sequence")
	}
	return seq.Int64 + 1, nil
}

func (c *Connection) prepare(ctx context.Context, text string) (*sql.Stmt, error) {
	if err := c.requireValid(); err != nil {
		return nil, err
	}
	return c.db.PrepareContext(ctx, text)
}

func (c *Connection) queryStatement(ctx context.Context, stmt *sql.Stmt, args []any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := c.execWithBusyRetry(ctx, func() error {
		var qErr error
		rows, qErr = stmt.QueryContext(ctx, args...)
		return qErr
	})
	return rows, err
}

// execWithBusyRetry retries fn with the same 10/20/40ms exponential
// backoff shape used elsewhere in the dependency graph, now expressed
// through retry-go instead of a hand-rolled loop. Only errors that
// classify as Busy are retried; every other error, SQLITE_LOCKED
// included, is returned after the first attempt.
func (c *Connection) execWithBusyRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Attempts(c.opts.RetryAttempts),
		retry.Delay(10*time.Millisecond),
		retry.MaxDelay(40*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			// fn returns the raw driver error, not yet wrapped into a
			// dbinterface.Error, so IsBusy's errors.As check would never
			// match here — classify the raw error directly instead.
			return dbinterface.Classify(err) == dbinterface.KindBusy
		}),
		retry.LastErrorOnly(true),
	)
}

func (c *Connection) execWithBusyRetryResult(ctx context.Context, fn func() error) error {
	return c.execWithBusyRetry(ctx, fn)
}

// Lease borrows a Statement for text from the connection's statement
// cache.
func (c *Connection) Lease(ctx context.Context, text string) (*Statement, error) {
	if err := c.requireValid(); err != nil {
		return nil, err
	}
	return c.stmts.Lease(ctx, text)
}

// Release returns a Statement leased from Lease.
func (c *Connection) Release(st *Statement) {
	c.stmts.Release(st)
}

// WithinTransaction opens a nesting level, runs fn, and commits on fn
// returning nil or cancels otherwise: every transaction is scoped —
// commit on normal completion, cancel on any abnormal exit — and since
// Go has no destructors to run that unconditionally, this helper makes
// the scoping explicit.
func (c *Connection) WithinTransaction(ctx context.Context, fn func() error) error {
	if err := c.tx.Begin(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if cancelErr := c.tx.Cancel(ctx); cancelErr != nil {
			return cancelErr
		}
		return err
	}
	return c.tx.Commit(ctx)
}

// Close closes the statement cache and the underlying database file.
// Safe to call once; a second call is a no-op.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.valid = false

	if err := c.stmts.Close(); err != nil {
		log.Warn().Err(err).Msg("closing statement cache")
	}
	if err := c.db.Close(); err != nil {
		return dbinterface.WrapEngine(err, "close")
	}
	log.Info().Str("path", c.path).Msg("connection closed")
	return nil
}
