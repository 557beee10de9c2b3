// Package correlate holds in-flight values keyed by a correlation identifier.
// Insert is add-if-absent and removal is take-once, both lock-free on the hot path.
package correlate

import (
	"sync"
	"sync/atomic"
)

// Store maps correlation keys to open values between a start and its completion.
// Safe for concurrent use by multiple goroutines. The zero value is ready to use.
type Store[K comparable, V any] struct {
	m sync.Map
	n atomic.Int64
}

// TryAdd stores v under k if no entry exists. It returns false, leaving the
// existing entry untouched, when k is already present.
func (s *Store[K, V]) TryAdd(k K, v V) bool {
	if _, loaded := s.m.LoadOrStore(k, v); loaded {
		return false
	}
	s.n.Add(1)
	return true
}

// TryRemove deletes and returns the entry for k. Only one caller can win the
// removal of a given entry; every other caller sees ok == false.
func (s *Store[K, V]) TryRemove(k K) (v V, ok bool) {
	raw, loaded := s.m.LoadAndDelete(k)
	if !loaded {
		return v, false
	}
	s.n.Add(-1)
	return raw.(V), true //nolint:forcetypeassert // only V is ever stored
}

// Len returns the number of live entries. It may lag a concurrent add by one.
func (s *Store[K, V]) Len() int {
	return max(int(s.n.Load()), 0)
}

// Drain removes every live entry and calls fn once for each entry it removed.
// Entries removed concurrently by TryRemove are not passed to fn.
// Returns the number of entries drained.
func (s *Store[K, V]) Drain(fn func(K, V)) int {
	drained := 0
	s.m.Range(func(key, _ any) bool {
		k := key.(K) //nolint:forcetypeassert // only K is ever stored
		if v, ok := s.TryRemove(k); ok {
			drained++
			if fn != nil {
				fn(k, v)
			}
		}
		return true
	})
	return drained
}
