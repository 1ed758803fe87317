package db

import (
	"context"
	"fmt"
	"iter"

	"github.com/ValentinKolb/mapdb/lib/dberr"
)

// Iterator walks the entries of a TypedMap. Entries are visited in no
// particular order. Entries written while iterating may or may not be seen,
// an entry that is neither written nor removed during the iteration is seen
// exactly once.
//
// All can be ranged over repeatedly, each time from the start. Iteration
// stops at the first error, which Err reports afterwards:
//
//	it := users.Iter(ctx)
//	for k, v := range it.All() {
//	    ...
//	}
//	if err := it.Err(); err != nil {
//	    ...
//	}
type Iterator[K, V any] struct {
	ctx context.Context
	m   *TypedMap[K, V]
	err error
}

// All returns the entries as a sequence of key value pairs
func (it *Iterator[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it.err = nil
		if it.m.db.closed.Load() {
			it.err = dberr.ErrClosed
			return
		}

		var n int
		for rawKey, rawValue := range it.m.db.ix.Scan(it.m.ms.name) {
			if n%256 == 0 {
				if err := it.ctx.Err(); err != nil {
					it.err = err
					return
				}
			}
			n++

			k, err := it.m.keys.Decode(rawKey)
			if err != nil {
				it.err = fmt.Errorf("failed to decode key: %w", err)
				return
			}
			v, err := it.m.values.Decode(rawValue)
			if err != nil {
				it.err = fmt.Errorf("failed to decode value: %w", err)
				return
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

// Keys returns only the keys
func (it *Iterator[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range it.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values returns only the values
func (it *Iterator[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range it.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// Err returns the error that stopped the last iteration, if any
func (it *Iterator[K, V]) Err() error {
	return it.err
}
