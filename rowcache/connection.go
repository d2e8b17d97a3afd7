// SPDX-License-Identifier: GPL-2.0-or-later

package rowcache

import (
	"context"
	"reflect"

	"github.com/rs/zerolog/log"

	"github.com/arnegray/rowcache/internal/rdb"
)

// Connection wraps the open database handle and
// statement cache and transaction coordinator of rdb.Connection, plus
// the identity maps — one per persisted base type, held in a map keyed
// by reflect.Type with no defined order — that rdb knows nothing about.
type Connection struct {
	*rdb.Connection
	maps map[reflect.Type]identityMapEntry
}

// identityMapEntry lets Connection hold identity maps for arbitrarily
// many concrete entity types without a type parameter of its own: each
// IdentityMap[T] is stored behind the narrow interface it needs to
// support Connection-wide bookkeeping (size reporting for Metrics).
type identityMapEntry interface {
	Len() int
}

// Open opens path as a Connection: fails if path is empty or the engine
// refuses. Foreign keys are enabled by the underlying rdb.Connection on
// open.
func Open(ctx context.Context, path string, opts rdb.Options) (*Connection, error) {
	conn, err := rdb.Open(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return &Connection{Connection: conn, maps: make(map[reflect.Type]identityMapEntry)}, nil
}

// identityMapFor returns the single IdentityMap[T] instance for T,
// constructing it on first use. The base type T is keyed by its
// reflect.Type so a hierarchy's base and a non-hierarchical entity are
// both indexed the same way.
func identityMapFor[T Entity](conn *Connection, newEntity func() T) *IdentityMap[T] {
	key := reflect.TypeOf((*T)(nil)).Elem()
	if existing, ok := conn.maps[key]; ok {
		return existing.(*IdentityMap[T])
	}
	im := newIdentityMap[T](conn, newEntity)
	conn.maps[key] = im
	log.Debug().Str("type", key.String()).Msg("identity map constructed")
	return im
}
