package cache

import (
	"sync"
	"time"
)

type entry struct {
	v   any
	exp time.Time
	seq uint64
}

// TTLCache is a bounded in-process cache. When full, expired entries are
// dropped first and then the oldest insertion.
type TTLCache struct {
	mu         sync.RWMutex
	m          map[string]entry
	maxEntries int
	seq        uint64
	now        func() time.Time
}

type Option func(*TTLCache)

// WithMaxEntries bounds the cache; zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *TTLCache) { c.maxEntries = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) { c.now = now }
}

func NewTTLCache(opts ...Option) *TTLCache {
	c := &TTLCache{m: make(map[string]entry), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		c.mu.Lock()
		if cur, ok := c.m[key]; ok && cur.seq == e.seq {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.v, true
}

func (c *TTLCache) Set(key string, v any, ttl time.Duration) {
	var exp time.Time
	now := c.now()
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[key]; !exists && c.maxEntries > 0 && len(c.m) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.seq++
	c.m[key] = entry{v: v, exp: exp, seq: c.seq}
}

func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Purge drops every entry.
func (c *TTLCache) Purge() {
	c.mu.Lock()
	c.m = make(map[string]entry)
	c.mu.Unlock()
}

func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *TTLCache) evictLocked(now time.Time) {
	for k, e := range c.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(c.m, k)
		}
	}
	for len(c.m) >= c.maxEntries {
		var oldestKey string
		var oldest uint64
		first := true
		for k, e := range c.m {
			if first || e.seq < oldest {
				oldestKey, oldest, first = k, e.seq, false
			}
		}
		delete(c.m, oldestKey)
	}
}
