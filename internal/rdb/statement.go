// SPDX-License-Identifier: GPL-2.0-or-later

// Package rdb is the low-level connection layer: a single SQLite
// connection, its prepared-statement cache, and its nested-transaction
// coordinator. It knows nothing about identity maps or persistent
// objects — those live one layer up, in package rowcache.
package rdb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/arnegray/rowcache/internal/dbinterface"
)

// StepResult is the outcome of a single Step call.
type StepResult int

const (
	// Row means a result row is available; read it with Extract before
	// calling Step again.
	Row StepResult = iota
	// Done means the statement ran to completion with no further rows.
	Done
)

// Statement is a thin wrapper over a single prepared SQL statement: bind,
// step, extract, with an advisory lock the StatementCache uses to decide
// whether a text needs a second prepared copy. It represents exactly one
// SQL statement — constructing one over text holding more than one
// fails with TooManyStatements.
type Statement struct {
	conn   *Connection
	text   string
	stmt   *sql.Stmt
	params map[string]bool
	binds  map[string]any

	rows    *sql.Rows
	cols    []string
	current []any
	hasRow  bool

	locked   bool
	overflow bool
}

// newStatement prepares text against conn and rejects multi-statement text.
func newStatement(ctx context.Context, conn *Connection, text string) (*Statement, error) {
	if err := checkSingleStatement(text); err != nil {
		return nil, err
	}

	stmt, err := conn.prepare(ctx, text)
	if err != nil {
		return nil, dbinterface.WrapEngine(err, "prepare statement")
	}

	return &Statement{
		conn:   conn,
		text:   text,
		stmt:   stmt,
		params: scanParamNames(text),
		binds:  make(map[string]any),
	}, nil
}

// checkSingleStatement rejects text containing more than one non-empty,
// non-";" SQL statement, without requiring a second parse pass through
// the engine itself: it walks the text once, respecting quoted strings
// and comments, and splits on top-level ';'.
func checkSingleStatement(text string) error {
	count := 0
	var b strings.Builder
	flush := func() {
		if strings.TrimSpace(b.String()) != "" {
			count++
		}
		b.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '\'', '"', '`':
			quote := c
			b.WriteRune(c)
			i++
			for i < len(runes) {
				b.WriteRune(runes[i])
				if runes[i] == quote {
					break
				}
				i++
			}
		case '-':
			if i+1 < len(runes) && runes[i+1] == '-' {
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
				continue
			}
			b.WriteRune(c)
		case '/':
			if i+1 < len(runes) && runes[i+1] == '*' {
				i += 2
				for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
					i++
				}
				i++
				continue
			}
			b.WriteRune(c)
		case ';':
			flush()
		default:
			b.WriteRune(c)
		}
	}
	flush()

	if count > 1 {
		return dbinterface.Newf(dbinterface.KindTooManyStatements, "statement text contains %d statements", count)
	}
	return nil
}

// scanParamNames finds every ":name" token in text so Bind can reject
// unknown parameter names without a round trip to the engine.
func scanParamNames(text string) map[string]bool {
	names := make(map[string]bool)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != ':' {
			continue
		}
		j := i + 1
		for j < len(runes) && (isAlnum(runes[j]) || runes[j] == '_') {
			j++
		}
		if j > i+1 {
			names[string(runes[i+1:j])] = true
			i = j - 1
		}
	}
	return names
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Lock marks the statement in use. StatementCache consults this via
// IsLocked before lending a cached entry.
func (s *Statement) Lock() { s.locked = true }

// Unlock marks the statement available again. Called only on the
// returning path out of StatementCache.Release.
func (s *Statement) Unlock() { s.locked = false }

// IsLocked reports the advisory lock state.
func (s *Statement) IsLocked() bool { return s.locked }

// Bind attaches a value to a named parameter. Unknown parameter names
// are rejected without touching the engine. A failed Bind propagates
// unchanged and leaves prior bindings on the statement untouched.
func (s *Statement) Bind(name string, value any) error {
	if !s.params[name] {
		return dbinterface.Newf(dbinterface.KindSQLiteError, "unknown bind parameter %q", name)
	}
	switch value.(type) {
	case int32, int64, int, float64, string, nil:
		s.binds[name] = value
		return nil
	default:
		return dbinterface.Newf(dbinterface.KindValueTypeError, "unsupported bind value type %T for %q", value, name)
	}
}

// ClearBindings discards all accumulated parameter values. Idempotent,
// never fails.
func (s *Statement) ClearBindings() {
	s.binds = make(map[string]any)
}

// Reset discards any open result set so the statement can be stepped
// again from the start. Idempotent, never fails.
func (s *Statement) Reset() {
	if s.rows != nil {
		_ = s.rows.Close()
		s.rows = nil
	}
	s.hasRow = false
	s.current = nil
	s.cols = nil
}

func (s *Statement) namedArgs() []any {
	args := make([]any, 0, len(s.binds))
	for k, v := range s.binds {
		args = append(args, sql.Named(k, v))
	}
	return args
}

// Step advances the statement by one row. On the first call it executes
// the query against the engine; on Done the statement is implicitly
// reset so it is immediately reusable. Any engine error resets the
// statement and clears its bindings before being re-raised, so a cache
// that hands this Statement out again finds it clean.
func (s *Statement) Step(ctx context.Context) (StepResult, error) {
	if s.rows == nil {
		rows, err := s.conn.queryStatement(ctx, s.stmt, s.namedArgs())
		if err != nil {
			s.Reset()
			s.ClearBindings()
			return Done, dbinterface.WrapEngine(err, "step")
		}
		cols, err := rows.Columns()
		if err != nil {
			_ = rows.Close()
			s.Reset()
			s.ClearBindings()
			return Done, dbinterface.WrapEngine(err, "step: columns")
		}
		s.rows = rows
		s.cols = cols
	}

	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			s.Reset()
			s.ClearBindings()
			return Done, dbinterface.WrapEngine(err, "step: iterate")
		}
		s.Reset()
		return Done, nil
	}

	dest := make([]any, len(s.cols))
	ptrs := make([]any, len(s.cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		s.Reset()
		s.ClearBindings()
		return Done, dbinterface.WrapEngine(err, "step: scan")
	}

	s.current = dest
	s.hasRow = true
	return Row, nil
}

// StepFinal runs Step once and fails if it produced a row — the
// "exec, expect no result set" form used for INSERT/UPDATE/DELETE.
func (s *Statement) StepFinal(ctx context.Context) error {
	res, err := s.Step(ctx)
	if err != nil {
		return err
	}
	if res == Row {
		return dbinterface.New(dbinterface.KindUnexpectedResultRow, "step_final saw a result row")
	}
	return nil
}

// Extract reads column idx into dest, which must be a pointer to
// int32, int64, float64, or string. It fails if there is no current
// row, if idx is out of range, or if the column's dynamic type is
// incompatible with dest's type.
func (s *Statement) Extract(idx int, dest any) error {
	raw, err := s.extractRaw(idx)
	if err != nil {
		return err
	}

	switch d := dest.(type) {
	case *int32:
		v, ok := asInt64(raw)
		if !ok {
			return dbinterface.Newf(dbinterface.KindValueTypeError, "column %d is %T, not an integer", idx, raw)
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return dbinterface.New(dbinterface.KindOverflowError, "column value overflows int32")
		}
		*d = int32(v)
	case *int64:
		v, ok := asInt64(raw)
		if !ok {
			return dbinterface.Newf(dbinterface.KindValueTypeError, "column %d is %T, not an integer", idx, raw)
		}
		*d = v
	case *float64:
		v, ok := raw.(float64)
		if !ok {
			return dbinterface.Newf(dbinterface.KindValueTypeError, "column %d is %T, not a float", idx, raw)
		}
		*d = v
	case *string:
		switch r := raw.(type) {
		case string:
			*d = r
		case []byte:
			*d = string(r)
		default:
			return dbinterface.Newf(dbinterface.KindValueTypeError, "column %d is %T, not text", idx, raw)
		}
	default:
		return fmt.Errorf("rdb: unsupported Extract dest type %T", dest)
	}
	return nil
}

func asInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	default:
		return 0, false
	}
}

func (s *Statement) extractRaw(idx int) (any, error) {
	if !s.hasRow {
		return nil, dbinterface.New(dbinterface.KindNoResultRow, "extract called before a successful step")
	}
	if idx < 0 || idx >= len(s.current) {
		return nil, dbinterface.Newf(dbinterface.KindResultIndexOutOfRange, "column index %d out of range [0,%d)", idx, len(s.current))
	}
	return s.current[idx], nil
}

// ExtractInt64 is a typed convenience over Extract.
func (s *Statement) ExtractInt64(idx int) (int64, error) {
	var v int64
	err := s.Extract(idx, &v)
	return v, err
}

// ExtractInt32 is a typed convenience over Extract.
func (s *Statement) ExtractInt32(idx int) (int32, error) {
	var v int32
	err := s.Extract(idx, &v)
	return v, err
}

// ExtractFloat64 is a typed convenience over Extract.
func (s *Statement) ExtractFloat64(idx int) (float64, error) {
	var v float64
	err := s.Extract(idx, &v)
	return v, err
}

// ExtractText is a typed convenience over Extract.
func (s *Statement) ExtractText(idx int) (string, error) {
	var v string
	err := s.Extract(idx, &v)
	return v, err
}

// Text returns the SQL text this statement was built from — the cache
// key under which it's stored.
func (s *Statement) Text() string { return s.text }

// close releases the underlying prepared statement. Only the
// StatementCache that holds it calls this, on eviction or on Close.
func (s *Statement) close() error {
	s.Reset()
	if s.stmt != nil {
		return s.stmt.Close()
	}
	return nil
}
