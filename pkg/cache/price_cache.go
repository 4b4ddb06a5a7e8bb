// Package cache holds short-lived venue prices shared by readers of one
// gateway.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// PriceCache is a sharded symbol -> mark price map. Entries older than the
// TTL are treated as missing.
type PriceCache struct {
	ttl    time.Duration
	now    func() time.Time
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

// NewPriceCache creates a cache whose entries stay fresh for ttl.
func NewPriceCache(ttl time.Duration) *PriceCache {
	c := &PriceCache{ttl: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &priceShard{items: make(map[string]priceEntry)}
	}
	return c
}

func (c *PriceCache) shard(symbol string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a price for symbol.
func (c *PriceCache) Set(symbol string, price float64) {
	s := c.shard(symbol)
	s.mu.Lock()
	s.items[symbol] = priceEntry{price: price, updatedAt: c.now()}
	s.mu.Unlock()
}

// Get returns a fresh price for symbol.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	price, age, ok := c.GetWithAge(symbol)
	if !ok || age >= c.ttl {
		return 0, false
	}
	return price, true
}

// GetWithAge returns the last price regardless of freshness, and its age.
func (c *PriceCache) GetWithAge(symbol string) (float64, time.Duration, bool) {
	s := c.shard(symbol)
	s.mu.RLock()
	e, ok := s.items[symbol]
	s.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	return e.price, c.now().Sub(e.updatedAt), true
}

// Len returns the number of entries, fresh or not.
func (c *PriceCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge and reports how many went.
func (c *PriceCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, e := range s.items {
			if e.updatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
