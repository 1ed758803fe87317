package db

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/mapdb/lib/codec"
	"github.com/ValentinKolb/mapdb/lib/dberr"
	"github.com/ValentinKolb/mapdb/lib/index"
	"github.com/ValentinKolb/mapdb/lib/persistence"
)

// --------------------------------------------------------------------------
// Map options
// --------------------------------------------------------------------------

type mapConfig struct {
	keyCodec   any
	valueCodec any
}

// MapOption configures OpenMap
type MapOption func(*mapConfig)

// WithKeyCodec sets the codec used for keys (default codec.For[K])
func WithKeyCodec[K any](c codec.Codec[K]) MapOption {
	return func(cfg *mapConfig) { cfg.keyCodec = c }
}

// WithValueCodec sets the codec used for values (default codec.For[V])
func WithValueCodec[V any](c codec.Codec[V]) MapOption {
	return func(cfg *mapConfig) { cfg.valueCodec = c }
}

func resolveCodec[T any](c any, what string) (codec.Codec[T], error) {
	if c == nil {
		return codec.For[T](), nil
	}
	typed, ok := c.(codec.Codec[T])
	if !ok {
		var zero T
		return nil, dberr.New(dberr.CodeTypeMismatch, "%s codec does not encode %T", what, zero)
	}
	return typed, nil
}

// --------------------------------------------------------------------------
// TypedMap
// --------------------------------------------------------------------------

// TypedMap is a persistent map from K to V. Keys and values are stored in
// their encoded form, so a TypedMap only holds codecs and a reference to the
// registry entry of its map.
//
// Writes return once the mutation is durable and visible. Reads never touch
// the disk.
//
// Thread-safety: All methods are thread-safe.
type TypedMap[K, V any] struct {
	db     *DB
	ms     *mapState
	keys   codec.Codec[K]
	values codec.Codec[V]
}

// Pair is one key and value of a batch insert
type Pair[K, V any] struct {
	Key   K
	Value V
}

// OpenMap opens the map called name, creating it if it does not exist. The
// codec tags are stored with the map; opening it with codecs for other types
// fails with a dberr.ErrTypeMismatch error.
func OpenMap[K, V any](db *DB, name string, opts ...MapOption) (*TypedMap[K, V], error) {
	if db.closed.Load() {
		return nil, dberr.ErrClosed
	}

	var cfg mapConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	keys, err := resolveCodec[K](cfg.keyCodec, "key")
	if err != nil {
		return nil, err
	}
	values, err := resolveCodec[V](cfg.valueCodec, "value")
	if err != nil {
		return nil, err
	}

	ms, err := db.register(name, keys.Tag(), values.Tag())
	if err != nil {
		return nil, err
	}
	return &TypedMap[K, V]{db: db, ms: ms, keys: keys, values: values}, nil
}

// Name returns the name of the map
func (m *TypedMap[K, V]) Name() string {
	return m.ms.name
}

func (m *TypedMap[K, V]) checkRead(ctx context.Context) error {
	if m.db.closed.Load() {
		return dberr.ErrClosed
	}
	return ctx.Err()
}

func (m *TypedMap[K, V]) encodeKey(k K) ([]byte, error) {
	b, err := m.keys.Encode(k)
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}
	return b, nil
}

// decodePrev decodes a previous value returned by the index
func (m *TypedMap[K, V]) decodePrev(raw []byte, existed bool) (Previous[V], error) {
	if !existed {
		return Previous[V]{}, nil
	}
	v, err := m.values.Decode(raw)
	if err != nil {
		return Previous[V]{}, err
	}
	return Previous[V]{Value: v, Existed: true}, nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// InsertAsync starts inserting or replacing the value of k
func (m *TypedMap[K, V]) InsertAsync(ctx context.Context, k K, v V) *Future[Previous[V]] {
	key, err := m.encodeKey(k)
	if err != nil {
		return failedFuture[Previous[V]](err)
	}
	value, err := m.values.Encode(v)
	if err != nil {
		return failedFuture[Previous[V]](fmt.Errorf("failed to encode value: %w", err))
	}

	var (
		prev    []byte
		existed bool
	)
	rec := persistence.Record{Op: persistence.OpPut, Map: m.ms.name, Key: key, Value: value}
	t, err := m.db.submit(ctx, m.ms, []persistence.Record{rec}, index.EntrySize(key, value), func(recs []persistence.Record) {
		prev, existed, _ = m.db.applyRecord(m.ms, recs[0])
	})
	if err != nil {
		return failedFuture[Previous[V]](err)
	}
	m.db.ops.inserts.Inc()

	return &Future[Previous[V]]{ticket: t, resolve: func() (Previous[V], error) {
		return m.decodePrev(prev, existed)
	}}
}

// Insert inserts or replaces the value of k. It returns the previous value
// and whether there was one.
func (m *TypedMap[K, V]) Insert(ctx context.Context, k K, v V) (V, bool, error) {
	p, err := m.InsertAsync(ctx, k, v).Wait(ctx)
	return p.Value, p.Existed, err
}

// RemoveAsync starts removing k
func (m *TypedMap[K, V]) RemoveAsync(ctx context.Context, k K) *Future[Previous[V]] {
	key, err := m.encodeKey(k)
	if err != nil {
		return failedFuture[Previous[V]](err)
	}

	// logged even if k is absent right now, an earlier write of the same
	// caller may still be queued
	var (
		prev    []byte
		existed bool
	)
	rec := persistence.Record{Op: persistence.OpRemove, Map: m.ms.name, Key: key}
	t, err := m.db.submit(ctx, m.ms, []persistence.Record{rec}, 0, func(recs []persistence.Record) {
		prev, existed, _ = m.db.applyRecord(m.ms, recs[0])
	})
	if err != nil {
		return failedFuture[Previous[V]](err)
	}
	m.db.ops.removes.Inc()

	return &Future[Previous[V]]{ticket: t, resolve: func() (Previous[V], error) {
		return m.decodePrev(prev, existed)
	}}
}

// Remove deletes k. It returns the removed value and whether there was one.
func (m *TypedMap[K, V]) Remove(ctx context.Context, k K) (V, bool, error) {
	p, err := m.RemoveAsync(ctx, k).Wait(ctx)
	return p.Value, p.Existed, err
}

// InsertBatch inserts all pairs with a single group committed append and
// returns the previous value of every pair, in the order of pairs. Each
// record is its own log frame, so a crash during the append may keep a prefix
// of the batch. Once InsertBatch returns without error the whole batch is
// durable.
func (m *TypedMap[K, V]) InsertBatch(ctx context.Context, pairs []Pair[K, V]) ([]Previous[V], error) {
	if len(pairs) == 0 {
		return nil, m.checkRead(ctx)
	}

	recs := make([]persistence.Record, len(pairs))
	var reserve int64
	for i, p := range pairs {
		key, err := m.encodeKey(p.Key)
		if err != nil {
			return nil, err
		}
		value, err := m.values.Encode(p.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode value: %w", err)
		}
		recs[i] = persistence.Record{Op: persistence.OpPut, Map: m.ms.name, Key: key, Value: value}
		reserve += index.EntrySize(key, value)
	}

	raw := make([]rawPrev, len(recs))
	t, err := m.db.submit(ctx, m.ms, recs, reserve, m.applyAll(raw))
	if err != nil {
		return nil, err
	}
	m.db.ops.inserts.Add(len(pairs))
	if err := t.Wait(ctx); err != nil {
		return nil, err
	}

	prevs := make([]Previous[V], len(raw))
	for i, r := range raw {
		if prevs[i], err = m.decodePrev(r.value, r.existed); err != nil {
			return nil, err
		}
	}
	return prevs, nil
}

// RemoveBatch removes all keys with a single group committed append. It
// returns the keys that had a value together with that value.
func (m *TypedMap[K, V]) RemoveBatch(ctx context.Context, keys []K) ([]Pair[K, V], error) {
	if len(keys) == 0 {
		return nil, m.checkRead(ctx)
	}

	recs := make([]persistence.Record, 0, len(keys))
	for _, k := range keys {
		key, err := m.encodeKey(k)
		if err != nil {
			return nil, err
		}
		recs = append(recs, persistence.Record{Op: persistence.OpRemove, Map: m.ms.name, Key: key})
	}

	raw := make([]rawPrev, len(recs))
	t, err := m.db.submit(ctx, m.ms, recs, 0, m.applyAll(raw))
	if err != nil {
		return nil, err
	}
	m.db.ops.removes.Add(len(keys))
	if err := t.Wait(ctx); err != nil {
		return nil, err
	}

	var removed []Pair[K, V]
	for i, r := range raw {
		if !r.existed {
			continue
		}
		v, err := m.values.Decode(r.value)
		if err != nil {
			return nil, err
		}
		removed = append(removed, Pair[K, V]{Key: keys[i], Value: v})
	}
	return removed, nil
}

// rawPrev is the encoded previous value of one batch record
type rawPrev struct {
	value   []byte
	existed bool
}

// applyAll returns an apply function that stores the previous value of
// recs[i] in out[i]
func (m *TypedMap[K, V]) applyAll(out []rawPrev) func([]persistence.Record) {
	return func(recs []persistence.Record) {
		for i, rec := range recs {
			out[i].value, out[i].existed, _ = m.db.applyRecord(m.ms, rec)
		}
	}
}

// Clear removes every entry written before the clear. Returns the number of
// removed entries.
func (m *TypedMap[K, V]) Clear(ctx context.Context) (int, error) {
	var removed int
	rec := persistence.Record{Op: persistence.OpClear, Map: m.ms.name}
	t, err := m.db.submit(ctx, m.ms, []persistence.Record{rec}, 0, func(recs []persistence.Record) {
		_, _, removed = m.db.applyRecord(m.ms, recs[0])
	})
	if err != nil {
		return 0, err
	}
	m.db.ops.clears.Inc()
	if err := t.Wait(ctx); err != nil {
		return 0, err
	}
	return removed, nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Get returns the value of k
func (m *TypedMap[K, V]) Get(ctx context.Context, k K) (V, bool, error) {
	var zero V
	if err := m.checkRead(ctx); err != nil {
		return zero, false, err
	}
	key, err := m.encodeKey(k)
	if err != nil {
		return zero, false, err
	}

	m.db.ops.gets.Inc()
	raw, ok := m.db.ix.Get(m.ms.name, key)
	if !ok {
		return zero, false, nil
	}
	v, err := m.values.Decode(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Contains returns true if k has a value
func (m *TypedMap[K, V]) Contains(ctx context.Context, k K) (bool, error) {
	if err := m.checkRead(ctx); err != nil {
		return false, err
	}
	key, err := m.encodeKey(k)
	if err != nil {
		return false, err
	}
	return m.db.ix.Has(m.ms.name, key), nil
}

// Len returns the number of entries. The count is maintained atomically and
// may lag behind concurrent writes.
func (m *TypedMap[K, V]) Len() int {
	return m.db.ix.Len(m.ms.name)
}

// IsEmpty returns true if the map has no entries
func (m *TypedMap[K, V]) IsEmpty() bool {
	return m.Len() == 0
}

// Iter returns an iterator over the entries of the map
func (m *TypedMap[K, V]) Iter(ctx context.Context) *Iterator[K, V] {
	return &Iterator[K, V]{ctx: ctx, m: m}
}
