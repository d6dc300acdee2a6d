package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	expirable "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is an in-memory LRU cache implementing Store, backed by
// hashicorp's expirable LRU so entries are evicted both by size and by TTL.
type MemoryStore struct {
	lru       *expirable.LRU[string, *Entry]
	mu        sync.Mutex // only needed for DeleteByGlob atomicity
	evictions atomic.Int64
	maxSize   int
}

// NewMemoryStore creates a new in-memory LRU store with the given max size and TTL.
func NewMemoryStore(maxSize int, ttl time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	s := &MemoryStore{
		maxSize: maxSize,
	}
	s.lru = expirable.NewLRU[string, *Entry](maxSize, func(key string, value *Entry) {
		s.evictions.Add(1)
	}, ttl)
	return s
}

func (s *MemoryStore) Get(key string) (*Entry, bool) {
	return s.lru.Get(key)
}

func (s *MemoryStore) Set(key string, entry *Entry) {
	s.lru.Add(key, entry)
}

func (s *MemoryStore) Delete(key string) {
	s.lru.Remove(key)
}

// DeleteByGlob removes every key matching pattern (doublestar shell-glob
// syntax, e.g. "users/**" or "reports/*?id=*").
func (s *MemoryStore) DeleteByGlob(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	for _, key := range s.lru.Keys() {
		if ok, _ := doublestar.Match(pattern, key); ok {
			s.lru.Remove(key)
			count++
		}
	}
	return count
}

func (s *MemoryStore) Purge() {
	s.lru.Purge()
}

func (s *MemoryStore) Stats() StoreStats {
	return StoreStats{
		Size:      s.lru.Len(),
		MaxSize:   s.maxSize,
		Evictions: s.evictions.Load(),
	}
}
