// SPDX-License-Identifier: GPL-2.0-or-later

package rdb

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// statementCacheBuckets bounds the hand-rolled hash index entries are
// sharded into. Texts are short and this connection is single-threaded,
// so the bucket count is chosen purely to keep a bucket's linear scan
// short under many distinct prepared texts, not for lock concurrency.
const statementCacheBuckets = 64

// StatementCache is a per-connection map from SQL text to a reusable
// Statement, with a lending rule: a lookup for text already holding an
// unlocked Statement reuses it; otherwise a fresh one is prepared. Only
// the first Statement prepared for a given text is
// tracked for idle expiry (via ttlcache, TTL-bounded so a connection that
// stops touching a query eventually frees it); Statements prepared to
// satisfy concurrent reentrant use of the same text beyond that first one
// are closed the moment they're released, since they exist only to cover
// a transient spike in concurrent use of identical SQL.
//
// Entries are bucketed by xxhash of the statement text rather than kept
// in a single map[string][]*Statement, so a connection juggling many
// distinct prepared texts doesn't pay for a full string hash on every
// lookup beyond the initial fingerprint.
type StatementCache struct {
	conn *Connection

	// mu guards buckets. Lease/Release run on the connection's own
	// goroutine, but ttlcache's deallocation callback fires on its own
	// background timer goroutine, so buckets is touched from two
	// goroutines despite the rest of Connection being single-threaded.
	mu      sync.Mutex
	buckets [statementCacheBuckets][]*Statement
	idle    *ttlcache.Cache[string, *Statement]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewStatementCache builds a cache whose primary (first-prepared) entry
// per text is evicted and closed after ttl of no use.
func NewStatementCache(conn *Connection, ttl time.Duration) *StatementCache {
	sc := &StatementCache{conn: conn}

	opts := ttlcache.Options[string, *Statement]{}.SetDefaultTTL(ttl).
		SetDeallocationFunc(func(text string, st *Statement, _ ttlcache.DeallocationReason) {
			sc.removeEntry(text, st)
		})
	sc.idle = ttlcache.New(opts)

	return sc
}

func bucketFor(text string) int {
	return int(xxhash.Sum64String(text) % statementCacheBuckets)
}

// Lease returns a Statement for text, locked for the caller's exclusive
// use. Callers must call Release on every exit path (success, error, or
// panic recovery further up the stack).
func (sc *StatementCache) Lease(ctx context.Context, text string) (*Statement, error) {
	var span trace.Span
	if tracer := sc.conn.tracer; tracer != nil {
		truncated := text
		if len(truncated) > 100 {
			truncated = truncated[:100]
		}
		ctx, span = tracer.Start(ctx, "statement_cache.lease",
			trace.WithAttributes(attribute.String("db.statement", truncated)))
		defer span.End()
	}

	b := bucketFor(text)

	sc.mu.Lock()
	existingForText := 0
	for _, st := range sc.buckets[b] {
		if st.Text() != text {
			continue
		}
		existingForText++
		if !st.IsLocked() {
			st.Lock()
			sc.mu.Unlock()
			sc.hits.Add(1)
			if span != nil {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				span.SetStatus(codes.Ok, "reused cached statement")
			}
			return st, nil
		}
	}
	sc.mu.Unlock()

	sc.misses.Add(1)
	st, err := newStatement(ctx, sc.conn, text)
	if err != nil {
		if span != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	st.overflow = existingForText > 0
	sc.mu.Lock()
	sc.buckets[b] = append(sc.buckets[b], st)
	sc.mu.Unlock()

	if span != nil {
		span.SetAttributes(attribute.Bool("cache.hit", false))
	}
	st.Lock()
	return st, nil
}

// Release returns a Statement leased from Lease. It resets the
// statement, clears its bindings, and unlocks it so a future Lease for
// the same text can reuse it.
func (sc *StatementCache) Release(st *Statement) {
	st.Reset()
	st.ClearBindings()
	st.Unlock()

	if st.overflow {
		sc.removeEntry(st.Text(), st)
		return
	}
	sc.idle.Set(st.Text(), st, ttlcache.DefaultTTL)
}

// removeEntry may run on the connection goroutine (via Release) or on
// ttlcache's background timer goroutine (via the deallocation callback
// set in NewStatementCache), so it takes mu itself rather than assuming
// the caller already holds it.
func (sc *StatementCache) removeEntry(text string, target *Statement) {
	b := bucketFor(text)

	sc.mu.Lock()
	list := sc.buckets[b]
	for i, st := range list {
		if st == target {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	sc.buckets[b] = list
	sc.mu.Unlock()

	_ = target.close()
}

// Stats reports cumulative lease hit/miss counters.
func (sc *StatementCache) Stats() (hits, misses uint64) {
	return sc.hits.Load(), sc.misses.Load()
}

// Len reports the number of live Statement instances across all texts,
// locked or not.
func (sc *StatementCache) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	n := 0
	for _, list := range sc.buckets {
		n += len(list)
	}
	return n
}

// Close closes every live Statement, locked or not. Only Connection.Close
// calls this.
func (sc *StatementCache) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for i := range sc.buckets {
		for _, st := range sc.buckets[i] {
			_ = st.close()
		}
		sc.buckets[i] = nil
	}
	return nil
}
