package db

import (
	"context"
)

// Set is a persistent set of K, a TypedMap with the unit value
type Set[K any] struct {
	m *TypedMap[K, struct{}]
}

// OpenSet opens the set called name, creating it if it does not exist. Only
// WithKeyCodec is meaningful for sets.
func OpenSet[K any](db *DB, name string, opts ...MapOption) (*Set[K], error) {
	m, err := OpenMap[K, struct{}](db, name, opts...)
	if err != nil {
		return nil, err
	}
	return &Set[K]{m: m}, nil
}

// Name returns the name of the set
func (s *Set[K]) Name() string { return s.m.Name() }

// Insert adds k. Returns true if k was already present.
func (s *Set[K]) Insert(ctx context.Context, k K) (bool, error) {
	_, existed, err := s.m.Insert(ctx, k, struct{}{})
	return existed, err
}

// Remove deletes k. Returns true if k was present.
func (s *Set[K]) Remove(ctx context.Context, k K) (bool, error) {
	_, existed, err := s.m.Remove(ctx, k)
	return existed, err
}

// Contains returns true if k is present
func (s *Set[K]) Contains(ctx context.Context, k K) (bool, error) {
	return s.m.Contains(ctx, k)
}

// Len returns the number of elements
func (s *Set[K]) Len() int { return s.m.Len() }

// IsEmpty returns true if the set has no elements
func (s *Set[K]) IsEmpty() bool { return s.m.IsEmpty() }

// Iter returns an iterator over the elements, use its Keys method
func (s *Set[K]) Iter(ctx context.Context) *Iterator[K, struct{}] {
	return s.m.Iter(ctx)
}

// InsertBatch adds all keys with a single append. The result holds for every
// key whether it was already present.
func (s *Set[K]) InsertBatch(ctx context.Context, keys []K) ([]bool, error) {
	pairs := make([]Pair[K, struct{}], len(keys))
	for i, k := range keys {
		pairs[i] = Pair[K, struct{}]{Key: k}
	}
	prevs, err := s.m.InsertBatch(ctx, pairs)
	if err != nil {
		return nil, err
	}
	existed := make([]bool, len(prevs))
	for i, p := range prevs {
		existed[i] = p.Existed
	}
	return existed, nil
}

// RemoveBatch removes all keys with a single append and returns the ones that
// were present
func (s *Set[K]) RemoveBatch(ctx context.Context, keys []K) ([]K, error) {
	removed, err := s.m.RemoveBatch(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]K, len(removed))
	for i, p := range removed {
		out[i] = p.Key
	}
	return out, nil
}

// Clear removes every element
func (s *Set[K]) Clear(ctx context.Context) (int, error) {
	return s.m.Clear(ctx)
}
