// Package cache provides the memoizing store shared by package resolvers.
//
// Entries are addressed by a key (normally a manifest path) and a field
// (the name of a fact derived from that manifest). Each (key, field) pair is
// computed at most once until the key is invalidated.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the value for a cache entry.
type ComputeFunc func(ctx context.Context) (any, error)

type entry struct {
	value any
	err   error

	// computedAt is when the computation started. Inputs changed after it
	// may not be reflected in value.
	computedAt time.Time
}

// Store is a concurrency-safe memoizing cache.
type Store struct {
	mu sync.RWMutex

	// entries maps key -> field -> settled result.
	entries map[string]map[string]entry

	// generations is bumped on every Invalidate of a key so that in-flight
	// computations started before the invalidation are not stored.
	generations map[string]uint64

	group singleflight.Group
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:     make(map[string]map[string]entry),
		generations: make(map[string]uint64),
	}
}

// Get returns the value for (key, field), computing it with compute on first
// use. Errors are memoized like values.
func (s *Store) Get(ctx context.Context, key, field string, compute ComputeFunc) (any, error) {
	if e, ok := s.lookup(key, field); ok {
		return e.value, e.err
	}

	s.mu.RLock()
	gen := s.generations[key]
	s.mu.RUnlock()

	flightKey := fmt.Sprintf("%s\x00%s\x00%d", key, field, gen)
	ch := s.group.DoChan(flightKey, func() (any, error) {
		// Another caller may have settled the entry between lookup and here.
		if e, ok := s.lookup(key, field); ok {
			return e, nil
		}
		start := time.Now()
		value, err := compute(context.WithoutCancel(ctx))
		e := entry{value: value, err: err, computedAt: start}
		s.store(key, field, gen, e)
		return e, nil
	})

	select {
	case res := <-ch:
		e := res.Val.(entry)
		return e.value, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate removes every entry stored under key.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	s.generations[key]++
}

// Len returns the number of settled entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, fields := range s.entries {
		n += len(fields)
	}
	return n
}

func (s *Store) lookup(key, field string) (entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key][field]
	return e, ok
}

func (s *Store) store(key, field string, gen uint64, e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[key] != gen {
		return
	}
	fields := s.entries[key]
	if fields == nil {
		fields = make(map[string]entry)
		s.entries[key] = fields
	}
	fields[field] = e
}

// Get is a typed wrapper around Store.Get.
func Get[T any](ctx context.Context, s *Store, key, field string, compute func(ctx context.Context) (T, error)) (T, error) {
	v, err := s.Get(ctx, key, field, func(ctx context.Context) (any, error) {
		return compute(ctx)
	})
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache entry %s/%s has type %T, want %T", key, field, v, zero)
	}
	return t, nil
}
