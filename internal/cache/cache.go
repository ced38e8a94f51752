// Package cache provides the in-process memoization primitives used by the
// traversal: time-bounded caches shared across runs and monotonic in-run
// dedup sets.
package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NoExpiration marks entries that are reused unconditionally once populated.
const NoExpiration = gocache.NoExpiration

// TTL is a typed wrapper around a go-cache store. Entries expire after the
// configured default TTL; a zero or negative TTL disables expiry.
type TTL[V any] struct {
	store *gocache.Cache
}

// NewTTL builds a TTL cache with the given default expiry.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	cleanup := 10 * time.Minute
	if ttl <= 0 {
		ttl = gocache.NoExpiration
		cleanup = 0
	}
	return &TTL[V]{store: gocache.New(ttl, cleanup)}
}

// Get returns the cached value for key and whether it was present and fresh.
func (t *TTL[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok := t.store.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return value, true
}

// Set stores value under key with the default TTL.
func (t *TTL[V]) Set(key string, value V) {
	t.store.SetDefault(key, value)
}

// Delete evicts key if present.
func (t *TTL[V]) Delete(key string) {
	t.store.Delete(key)
}

// Set is a mutex-guarded membership set. Membership is monotonic within a
// run; entries are never removed.
type Set struct {
	mu      sync.Mutex
	members map[string]struct{}
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{members: make(map[string]struct{})}
}

// Add inserts id and reports whether it was newly added. The check and the
// insert are a single atomic step so concurrent branches cannot both claim
// the same id.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; ok {
		return false
	}
	s.members[id] = struct{}{}
	return true
}

// Contains reports whether id is a member.
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[id]
	return ok
}

// Len returns the current membership count.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}
