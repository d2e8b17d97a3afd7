// SPDX-License-Identifier: GPL-2.0-or-later

package rowcache

import (
	"math"

	"github.com/arnegray/rowcache/internal/dbinterface"
)

const defaultOrphanCapacity = 256

// IdentityMap is the per-connection, per-base-type object cache.
// It is the sole owner of object[T] memory; every object reachable
// through a Handle[T] lives in exactly one IdentityMap, indexed by both
// its database Id (once known) and its CacheKey (always).
type IdentityMap[T Entity] struct {
	conn      *Connection
	newEntity func() T

	byID       map[int64]*object[T]
	byCacheKey map[int64]*object[T]
	nextProbe  int64

	orphan         *orphanQueue[T]
	cachingEnabled bool
}

func newIdentityMap[T Entity](conn *Connection, newEntity func() T) *IdentityMap[T] {
	return &IdentityMap[T]{
		conn:           conn,
		newEntity:      newEntity,
		byID:           make(map[int64]*object[T]),
		byCacheKey:     make(map[int64]*object[T]),
		orphan:         newOrphanQueue[T](defaultOrphanCapacity),
		cachingEnabled: true,
	}
}

// SetCachingEnabled toggles the orphan cache: while
// disabled, an object whose handle count drops to zero is evicted
// immediately instead of being parked for reuse. Callers toggle this
// around bulk operations that would otherwise flood the orphan cache
// with entries they never revisit.
func (im *IdentityMap[T]) SetCachingEnabled(enabled bool) {
	im.cachingEnabled = enabled
}

// Len reports how many objects are currently cached by cache key,
// regardless of handle count or orphan status.
func (im *IdentityMap[T]) Len() int { return len(im.byCacheKey) }

// allocateCacheKey probes monotonically for a free slot, wrapping from
// math.MaxInt64 back to 0. Collisions only arise after the counter has
// wrapped; it fails with OverflowError only once a full cycle finds
// every key in use.
func (im *IdentityMap[T]) allocateCacheKey() (int64, error) {
	start := im.nextProbe
	for {
		candidate := im.nextProbe
		if im.nextProbe == math.MaxInt64 {
			im.nextProbe = 0
		} else {
			im.nextProbe++
		}
		if _, used := im.byCacheKey[candidate]; !used {
			return candidate, nil
		}
		if im.nextProbe == start {
			return 0, dbinterface.New(dbinterface.KindOverflowError, "identity map cache-key space exhausted")
		}
	}
}

// provideNew allocates a cache key, constructs a fresh Dirty object, and
// inserts it by cache key only.
func (im *IdentityMap[T]) provideNew() (*object[T], error) {
	key, err := im.allocateCacheKey()
	if err != nil {
		return nil, err
	}
	obj := newDirtyObject[T](im.conn, im, im.newEntity(), key)
	im.byCacheKey[key] = obj
	return obj, nil
}

// provideByID returns the cached object if id is already known, else
// constructs a Ghost, allocates it a cache key, and inserts it in both
// tables.
func (im *IdentityMap[T]) provideByID(id int64) (*object[T], error) {
	if obj, ok := im.byID[id]; ok {
		im.orphan.remove(obj.cacheKey)
		return obj, nil
	}
	key, err := im.allocateCacheKey()
	if err != nil {
		return nil, err
	}
	obj := newGhostObject[T](im.conn, im, im.newEntity(), id, key)
	im.byCacheKey[key] = obj
	im.byID[id] = obj
	return obj, nil
}

// provideUnchecked trusts the caller's claim that id
// exists in the database, so this never issues a load; it fails only
// where provideByID does, on cache-key exhaustion.
func (im *IdentityMap[T]) provideUnchecked(id int64) (*object[T], error) {
	return im.provideByID(id)
}

// notifyHandleConstructed increments handleCount, returning an error
// instead of wrapping past the counter's maximum.
func (im *IdentityMap[T]) notifyHandleConstructed(obj *object[T]) error {
	if obj.handleCount == math.MaxUint32 {
		return dbinterface.New(dbinterface.KindOverflowError, "handle counter overflow")
	}
	obj.handleCount++
	im.orphan.remove(obj.cacheKey)
	return nil
}

// notifyHandleDestroyed decrements handleCount; at zero, the object is
// either parked in the orphan cache or evicted immediately, depending on
// whether it is evictable and whether caching is enabled.
func (im *IdentityMap[T]) notifyHandleDestroyed(obj *object[T]) {
	if obj.handleCount > 0 {
		obj.handleCount--
	}
	if obj.handleCount != 0 {
		return
	}
	if !obj.evictable() {
		return
	}
	if !im.cachingEnabled {
		im.uncache(obj)
		return
	}
	if evicted, ok := im.orphan.push(obj.cacheKey); ok {
		if victim, ok := im.byCacheKey[evicted]; ok {
			im.uncache(victim)
		}
	}
}

// reserveID speculatively inserts obj into by_id ahead of an INSERT
// completing, so a concurrent Fetch for the same id collapses onto the
// in-flight object.
func (im *IdentityMap[T]) reserveID(id int64, obj *object[T]) {
	im.byID[id] = obj
}

// dropReservedID undoes reserveID when the save that reserved id fails.
func (im *IdentityMap[T]) dropReservedID(id int64) {
	delete(im.byID, id)
}

// uncache forcibly evicts obj from both tables and the orphan queue. It
// is the caller's responsibility to have already confirmed handleCount
// is zero; uncache itself does not check.
func (im *IdentityMap[T]) uncache(obj *object[T]) {
	delete(im.byCacheKey, obj.cacheKey)
	if obj.id != nil {
		delete(im.byID, *obj.id)
	}
	im.orphan.remove(obj.cacheKey)
}

// orphanQueue is the bounded FIFO of cache keys with handleCount == 0
// and a clean state (Loaded or Ghost, never Dirty or Saving). When full,
// push evicts and returns the oldest entry's cache key.
type orphanQueue[T Entity] struct {
	capacity int
	order    []int64
	present  map[int64]bool
}

func newOrphanQueue[T Entity](capacity int) *orphanQueue[T] {
	return &orphanQueue[T]{capacity: capacity, present: make(map[int64]bool)}
}

// push enqueues key, returning the cache key evicted to make room and
// true, or false if nothing was evicted. A zero-valued cache key is a
// legitimate entry, not a sentinel, so eviction is reported with an
// explicit bool rather than by the returned key's value.
func (q *orphanQueue[T]) push(key int64) (int64, bool) {
	if q.present[key] {
		return 0, false
	}
	q.order = append(q.order, key)
	q.present[key] = true

	if len(q.order) <= q.capacity {
		return 0, false
	}
	evicted := q.order[0]
	q.order = q.order[1:]
	delete(q.present, evicted)
	return evicted, true
}

// remove drops key from the queue if present, a no-op otherwise. Used
// when a handle revives an orphaned object before it would naturally
// age out.
func (q *orphanQueue[T]) remove(key int64) {
	if !q.present[key] {
		return
	}
	delete(q.present, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}
