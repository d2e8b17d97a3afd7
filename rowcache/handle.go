// SPDX-License-Identifier: GPL-2.0-or-later

package rowcache

import (
	"context"

	"github.com/arnegray/rowcache/internal/dbinterface"
)

// Handle is a refcounted smart reference into an IdentityMap — the only
// legal way user code touches a persistent object. The zero
// Handle is unbound; Entity and Save on it return UnboundHandle, and the
// other methods are no-ops or report zero values.
type Handle[T Entity] struct {
	im  *IdentityMap[T]
	obj *object[T]
}

// New asks conn's identity map for a fresh, unsaved object of type T.
// newEntity constructs a zero-value T; it is typically the user type's
// own constructor.
func New[T Entity](conn *Connection, newEntity func() T) (Handle[T], error) {
	im := identityMapFor[T](conn, newEntity)
	obj, err := im.provideNew()
	if err != nil {
		return Handle[T]{}, err
	}
	return bind(im, obj)
}

// Fetch asks conn's identity map for the object at id. It constructs a
// Ghost if id is not already cached; it never triggers a load.
func Fetch[T Entity](conn *Connection, newEntity func() T, id int64) (Handle[T], error) {
	im := identityMapFor[T](conn, newEntity)
	obj, err := im.provideByID(id)
	if err != nil {
		return Handle[T]{}, err
	}
	return bind(im, obj)
}

// CreateUnchecked trusts the caller's claim that id
// exists in the database. Used by Cursor, which reads ids straight from
// a trusted SELECT.
func CreateUnchecked[T Entity](conn *Connection, newEntity func() T, id int64) (Handle[T], error) {
	im := identityMapFor[T](conn, newEntity)
	obj, err := im.provideUnchecked(id)
	if err != nil {
		return Handle[T]{}, err
	}
	return bind(im, obj)
}

func bind[T Entity](im *IdentityMap[T], obj *object[T]) (Handle[T], error) {
	if err := im.notifyHandleConstructed(obj); err != nil {
		return Handle[T]{}, err
	}
	return Handle[T]{im: im, obj: obj}, nil
}

// IsBound reports whether h references a live object. Go has no null
// dereference trap to catch an unbound Handle's use, so when IsBound is
// false Entity and Save return UnboundHandle explicitly instead of
// panicking, and the remaining methods do nothing or return zero values.
func (h Handle[T]) IsBound() bool { return h.obj != nil }

// Release decrements the handle's refcount on its underlying object.
// Go has no destructors, so callers must call Release on every exit
// path once they are done with a Handle. Calling Release more than
// once, or on an unbound Handle, is a no-op.
func (h *Handle[T]) Release() {
	if h.obj == nil {
		return
	}
	h.im.notifyHandleDestroyed(h.obj)
	h.obj = nil
	h.im = nil
}

// Equal reports whether h and other reference the same underlying
// object — pointer equality after identity-map dedup.
func (h Handle[T]) Equal(other Handle[T]) bool {
	return h.obj == other.obj
}

// Ptr returns the stable entity pointer this Handle refers to, for
// identity comparisons and direct field access once the caller knows
// the object is loaded. It is nil for an unbound Handle.
func (h Handle[T]) Ptr() T {
	var zero T
	if h.obj == nil {
		return zero
	}
	return h.obj.entity
}

// ID returns the object's database id and true, or the zero value and
// false for a not-yet-saved object.
func (h Handle[T]) ID() (int64, bool) {
	if h.obj == nil || h.obj.id == nil {
		return 0, false
	}
	return *h.obj.id, true
}

// Entity runs the load protocol if the object is still a Ghost, then
// returns the entity for field access. Go cannot intercept a plain
// field read the way a C++ proxy reference can, so callers are expected
// to route field reads through Entity instead of holding onto Ptr
// across a potential ghost state.
func (h Handle[T]) Entity(ctx context.Context) (T, error) {
	var zero T
	if h.obj == nil {
		return zero, dbinterface.New(dbinterface.KindUnboundHandle, "entity on an unbound handle")
	}
	if err := h.obj.ensureLoaded(ctx); err != nil {
		return zero, err
	}
	return h.obj.entity, nil
}

// MarkDirty transitions the underlying object from Loaded to Dirty.
// Call it after mutating fields obtained through Entity — Go has no way
// to intercept a plain field write, so the transition is explicit here
// instead of implicit.
func (h Handle[T]) MarkDirty() {
	if h.obj == nil {
		return
	}
	h.obj.markDirty()
}

// Save runs the save protocol and returns the object's id.
func (h Handle[T]) Save(ctx context.Context) (int64, error) {
	if h.obj == nil {
		return 0, dbinterface.New(dbinterface.KindUnboundHandle, "save on an unbound handle")
	}
	return h.obj.save(ctx)
}

// Ghostify resets the underlying object to Ghost, discarding its fields.
func (h Handle[T]) Ghostify() {
	if h.obj == nil {
		return
	}
	h.obj.ghostify()
}

// HasDynamicType reports whether the underlying object's concrete type,
// as reported by an optional DynamicTyper implementation, equals name.
// Entities that don't implement DynamicTyper always report false —
// appropriate for a non-hierarchical entity, where the question never
// arises.
func (h Handle[T]) HasDynamicType(name string) bool {
	if h.obj == nil {
		return false
	}
	dt, ok := any(h.obj.entity).(DynamicTyper)
	if !ok {
		return false
	}
	return dt.DynamicType() == name
}
