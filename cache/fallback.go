package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	// DefaultMaxEntries bounds the in-process fallback store
	DefaultMaxEntries = 1000

	// DefaultEvictionBatch is how many least-recently-accessed entries are
	// evicted in one pass once the store is over capacity
	DefaultEvictionBatch = 100
)

// fallbackEntry carries the payload and its expiry; recency ranking is
// maintained by the underlying LRU list.
type fallbackEntry struct {
	value     []byte
	expiresAt time.Time
}

/* fallbackStore is the in-process side of the degradable cache
 * It is scoped to a single process: every instance maintains its own copy,
 * which is accepted degraded-mode behavior while the durable backend is
 * the cross-instance source of truth
 */
type fallbackStore struct {
	mu            sync.Mutex
	lru           *simplelru.LRU[string, fallbackEntry]
	maxEntries    int
	evictionBatch int
}

func newFallbackStore(maxEntries, evictionBatch int) *fallbackStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if evictionBatch <= 0 {
		evictionBatch = DefaultEvictionBatch
	}

	// Headroom above maxEntries so eviction happens in explicit batches
	// below, never one-at-a-time inside the LRU itself
	lru, err := simplelru.NewLRU[string, fallbackEntry](maxEntries+evictionBatch, nil)
	if err != nil {
		// Only reachable with a non-positive size, which the guards above prevent
		panic(err)
	}

	return &fallbackStore{
		lru:           lru,
		maxEntries:    maxEntries,
		evictionBatch: evictionBatch,
	}
}

// Get returns the value for key and bumps its recency. Expired entries are
// logically absent and removed on sight.
func (s *fallbackStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.After(time.Now()) {
		s.lru.Remove(key)
		return nil, false
	}
	return entry.value, true
}

// Set stores the value with a TTL, evicting on overflow: expired entries
// first, then a batch of the least-recently-accessed.
func (s *fallbackStore) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Add(key, fallbackEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})

	if s.lru.Len() <= s.maxEntries {
		return
	}

	s.purgeExpired()

	if s.lru.Len() > s.maxEntries {
		for i := 0; i < s.evictionBatch; i++ {
			if _, _, ok := s.lru.RemoveOldest(); !ok {
				break
			}
		}
	}
}

// Del removes a key.
func (s *fallbackStore) Del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(key)
}

// DelPattern removes every key matching a glob with a single '*' wildcard.
// The glob is translated into a prefix/suffix match over in-memory keys.
func (s *fallbackStore) DelPattern(pattern string) {
	prefix, suffix, wildcard := splitGlob(pattern)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.lru.Keys() {
		if matchGlob(key, prefix, suffix, wildcard) {
			s.lru.Remove(key)
		}
	}
}

// Len reports the number of stored entries, expired ones included.
func (s *fallbackStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// purgeExpired walks oldest-to-newest without bumping recency.
func (s *fallbackStore) purgeExpired() {
	now := time.Now()
	for _, key := range s.lru.Keys() {
		if entry, ok := s.lru.Peek(key); ok && !entry.expiresAt.After(now) {
			s.lru.Remove(key)
		}
	}
}

func splitGlob(pattern string) (prefix, suffix string, wildcard bool) {
	idx := strings.IndexByte(pattern, '*')
	if idx < 0 {
		return pattern, "", false
	}
	return pattern[:idx], pattern[idx+1:], true
}

func matchGlob(key, prefix, suffix string, wildcard bool) bool {
	if !wildcard {
		return key == prefix
	}
	return len(key) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(key, prefix) &&
		strings.HasSuffix(key, suffix)
}
