// Package cache implements the backend's reply cache: a fixed-capacity
// LRU keyed by filename, with hit/miss accounting and an optional
// disablement switch. All operations are serialized by the underlying
// LRU's own locking; the hit/miss counters use atomics so Stats never
// contends with Get/Put.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"
)

// Cache is a Map[string][]byte with LRU eviction, sized at construction.
type Cache struct {
	lru      *lru.Cache[string, []byte]
	disabled bool

	hits   *atomic.Uint64
	misses *atomic.Uint64
}

// Config controls cache construction.
type Config struct {
	// Strategy is recorded but only "lru" is implemented; any other value
	// is a configuration-invalid error at startup.
	Strategy string `mapstructure:"strategy"`
	UseCache bool   `mapstructure:"use_cache"`
	Capacity int    `mapstructure:"capacity"`
}

// Validate checks the cache config for configuration-invalid errors.
func (c Config) Validate() error {
	if !c.UseCache {
		return nil
	}
	if c.Strategy != "" && c.Strategy != "lru" {
		return fmt.Errorf("cache: unknown strategy %q", c.Strategy)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("cache: capacity must be > 0, got %d", c.Capacity)
	}
	return nil
}

// New constructs a Cache per cfg. If cfg.UseCache is false, the returned
// Cache is a permanent miss / no-op sink (the optional disablement path).
func New(cfg Config) (*Cache, error) {
	c := &Cache{
		disabled: !cfg.UseCache,
		hits:     atomic.NewUint64(0),
		misses:   atomic.NewUint64(0),
	}
	if c.disabled {
		return c, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l, err := lru.New[string, []byte](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Get probes the cache for key, moving the entry to the front on a hit.
func (c *Cache) Get(key string) (value []byte, hit bool) {
	if c.disabled {
		c.misses.Inc()
		return nil, false
	}
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Inc()
		return v, true
	}
	c.misses.Inc()
	return nil, false
}

// Put inserts or updates key, evicting the LRU tail on overflow. A no-op
// when the cache is disabled.
func (c *Cache) Put(key string, value []byte) {
	if c.disabled {
		return
	}
	c.lru.Add(key, value)
}

// Stats reports the hit/miss counters and derived rates.
type Stats struct {
	Hits     uint64
	Misses   uint64
	HitRate  float64
	MissRate float64
}

// Stats returns a snapshot of the hit/miss counters.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	s := Stats{Hits: hits, Misses: misses}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
		s.MissRate = float64(misses) / float64(total)
	}
	return s
}
