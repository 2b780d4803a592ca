package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps keys in a process-local TTL cache. It is used in tests
// and when no redis address is configured.
type MemoryStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, int]
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, int](ttl),
		ttlcache.WithDisableTouchOnHit[string, int](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

// Stop ends the background cleanup of expired keys.
func (s *MemoryStore) Stop() { s.cache.Stop() }

// Len counts held keys, expired ones included until cleanup removes them.
func (s *MemoryStore) Len() int { return s.cache.Len() }

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	return s.cache.Get(key) != nil, nil
}

func (s *MemoryStore) Mark(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache.Get(key) != nil {
		return false, nil
	}
	s.cache.Set(key, 1, ttlcache.DefaultTTL)
	return true, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 1
	if item := s.cache.Get(key); item != nil {
		n = item.Value() + 1
	}
	s.cache.Set(key, n, ttlcache.DefaultTTL)
	return n, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
