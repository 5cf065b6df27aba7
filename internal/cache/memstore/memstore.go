// Package memstore is the in-process cache backend: a bounded LRU whose
// entries expire individually.
package memstore

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/price-cluster-map/internal/core/observability"
)

type entry struct {
	val []byte
	exp time.Time
}

type Store struct {
	mu   sync.Mutex
	lru  *expirable.LRU[string, entry]
	size int
	max  time.Duration
	now  func() time.Time
}

// New bounds the store to maxEntries. maxTTL caps every Set and is the
// horizon after which the LRU drops entries on its own.
func New(maxEntries int, maxTTL time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if maxTTL <= 0 {
		maxTTL = 24 * time.Hour
	}
	return &Store{
		lru:  expirable.NewLRU[string, entry](maxEntries, nil, maxTTL),
		size: maxEntries,
		max:  maxTTL,
		now:  time.Now,
	}
}

func (s *Store) MGet(keys []string) (map[string][]byte, error) {
	start := time.Now()
	now := s.now()
	out := make(map[string][]byte, len(keys))

	s.mu.Lock()
	for _, k := range keys {
		e, ok := s.lru.Get(k)
		if !ok {
			continue
		}
		if !now.Before(e.exp) {
			s.lru.Remove(k)
			continue
		}
		out[k] = e.val
	}
	s.mu.Unlock()

	observability.ObserveCacheOp("mget", nil, time.Since(start).Seconds())
	observability.AddCacheHits(len(out))
	observability.AddCacheMisses(len(keys) - len(out))
	return out, nil
}

func (s *Store) Set(key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > s.max {
		ttl = s.max
	}
	cp := append([]byte(nil), val...)

	now := s.now()
	s.mu.Lock()
	if s.lru.Len() >= s.size && !s.lru.Contains(key) {
		s.dropExpired(now)
	}
	s.lru.Add(key, entry{val: cp, exp: now.Add(ttl)})
	s.mu.Unlock()
	return nil
}

// dropExpired removes entries past their own expiry, oldest first, so a full
// store evicts dead entries before the least recently used live one.
func (s *Store) dropExpired(now time.Time) {
	for _, k := range s.lru.Keys() {
		e, ok := s.lru.Peek(k)
		if ok && now.Before(e.exp) {
			continue
		}
		s.lru.Remove(k)
	}
}

func (s *Store) Del(keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		s.lru.Remove(k)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}
