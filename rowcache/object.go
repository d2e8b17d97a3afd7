// SPDX-License-Identifier: GPL-2.0-or-later

package rowcache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arnegray/rowcache/internal/dbinterface"
)

type state int

const (
	stateGhost state = iota
	stateLoaded
	stateDirty
	stateSaving
)

func (s state) String() string {
	switch s {
	case stateGhost:
		return "ghost"
	case stateLoaded:
		return "loaded"
	case stateDirty:
		return "dirty"
	case stateSaving:
		return "saving"
	default:
		return "unknown"
	}
}

// object is the state machine that governs when a row is read, when it
// is written, and what a failed write means. One instance exists per
// row per identity map, and it is exclusively owned by that map —
// handles hold non-owning references plus a share of handleCount.
type object[T Entity] struct {
	conn   *Connection
	im     *IdentityMap[T]
	entity T

	id          *int64
	cacheKey    int64
	handleCount uint32
	state       state
}

func newDirtyObject[T Entity](conn *Connection, im *IdentityMap[T], entity T, cacheKey int64) *object[T] {
	return &object[T]{conn: conn, im: im, entity: entity, cacheKey: cacheKey, state: stateDirty}
}

func newGhostObject[T Entity](conn *Connection, im *IdentityMap[T], entity T, id, cacheKey int64) *object[T] {
	return &object[T]{conn: conn, im: im, entity: entity, id: &id, cacheKey: cacheKey, state: stateGhost}
}

// ensureLoaded is a no-op unless the object is Ghost, in which case it
// populates fields from the database and transitions to Loaded. A load
// failure leaves the object Ghost — never partially loaded.
func (o *object[T]) ensureLoaded(ctx context.Context) error {
	if o.state != stateGhost {
		return nil
	}
	if o.id == nil {
		return dbinterface.New(dbinterface.KindUnboundHandle, "ghost object has no id to load")
	}
	if err := o.entity.Load(ctx, o.conn, *o.id); err != nil {
		return err
	}
	o.state = stateLoaded
	return nil
}

// markDirty transitions Loaded -> Dirty. It is a no-op for a
// newly-constructed object, which is already Dirty.
func (o *object[T]) markDirty() {
	if o.state == stateLoaded {
		o.state = stateDirty
	}
}

// save runs the save protocol. A clean (Loaded or Ghost) object is a
// no-op that returns its existing id.
func (o *object[T]) save(ctx context.Context) (int64, error) {
	switch o.state {
	case stateLoaded, stateGhost:
		if o.id == nil {
			return 0, dbinterface.New(dbinterface.KindUnboundHandle, "object has no id and nothing to save")
		}
		return *o.id, nil
	case stateSaving:
		return 0, dbinterface.New(dbinterface.KindTransactionNestingError, "save called while a save is already in flight")
	}

	var span trace.Span
	if tracer := o.conn.Tracer(); tracer != nil {
		ctx, span = tracer.Start(ctx, "object.save",
			trace.WithAttributes(attribute.String("db.table", o.entity.ExclusiveTableName())))
		defer span.End()
	}

	openedTx := false
	if !o.conn.Tx().InTransaction() {
		if err := o.conn.Tx().Begin(ctx); err != nil {
			return 0, err
		}
		openedTx = true
	}

	snapshot := o.entity.Snapshot()
	wasNew := o.id == nil
	o.state = stateSaving

	o.conn.Tx().Register(func() {
		o.entity.Restore(snapshot)
		o.state = stateDirty
		if wasNew && o.id != nil {
			o.im.dropReservedID(*o.id)
			o.id = nil
		}
	})

	var reservedID int64
	var err error
	if wasNew {
		reservedID, err = o.conn.NextAutoincrementID(ctx, o.entity.ExclusiveTableName())
		if err == nil {
			o.id = &reservedID
			o.im.reserveID(reservedID, o)
			err = o.entity.SaveNew(ctx, o.conn, reservedID)
		}
	} else {
		reservedID = *o.id
		err = o.entity.SaveExisting(ctx, o.conn, reservedID)
	}

	if err != nil {
		if openedTx {
			_ = o.conn.Tx().Cancel(ctx)
		}
		if span != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		return 0, err
	}

	if openedTx {
		if cErr := o.conn.Tx().Commit(ctx); cErr != nil {
			if span != nil {
				span.SetStatus(codes.Error, cErr.Error())
			}
			return 0, cErr
		}
	}
	o.state = stateLoaded
	if span != nil {
		span.SetAttributes(attribute.Int64("db.id", reservedID))
		span.SetStatus(codes.Ok, "saved")
	}
	return reservedID, nil
}

// ghostify resets the object to Ghost, discarding whatever fields it
// currently holds.
func (o *object[T]) ghostify() {
	o.entity.Ghostify()
	o.state = stateGhost
}

// evictable reports whether the object may be removed from the identity
// map once its handle count reaches zero: a dirty or in-flight save
// must never be silently dropped.
func (o *object[T]) evictable() bool {
	return o.state != stateDirty && o.state != stateSaving
}
