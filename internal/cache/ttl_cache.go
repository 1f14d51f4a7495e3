package cache

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const defaultShards = 16

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

// TTLCache is a sharded in-process key/value cache. Entries expire lazily on
// read and are purged in bulk by EvictExpired.
type TTLCache[V any] struct {
	shards []*shard[V]
	now    func() time.Time
}

func NewTTLCache[V any](shards int, now func() time.Time) *TTLCache[V] {
	if shards <= 0 {
		shards = defaultShards
	}
	if now == nil {
		now = time.Now
	}
	c := &TTLCache[V]{
		shards: make([]*shard[V], shards),
		now:    now,
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return c
}

func (c *TTLCache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		s.mu.Lock()
		if cur, still := s.items[key]; still && !c.now().Before(cur.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	s.mu.Unlock()
}

func (c *TTLCache[V]) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// DeletePrefix removes every key starting with prefix and returns how many were removed.
func (c *TTLCache[V]) DeletePrefix(prefix string) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k := range s.items {
			if strings.HasPrefix(k, prefix) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// EvictExpired drops expired entries across all shards.
func (c *TTLCache[V]) EvictExpired() int {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if !now.Before(e.expiresAt) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len counts stored entries, including ones that expired but were not yet evicted.
func (c *TTLCache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
