package fetcher

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is the in-memory layer in front of sources: a bounded LRU of raw
// payloads keyed by Locator.Key. A zero-size Cache stores nothing.
type Cache struct {
	entries *lru.Cache[string, []byte]
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return &Cache{}, nil
	}
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil || c.entries == nil {
		return nil, false
	}
	return c.entries.Get(key)
}

func (c *Cache) Set(key string, value []byte) {
	if c == nil || c.entries == nil {
		return
	}
	c.entries.Add(key, value)
}

func (c *Cache) Len() int {
	if c == nil || c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

func (c *Cache) Purge() {
	if c == nil || c.entries == nil {
		return
	}
	c.entries.Purge()
}

// Store is a persistent cache consulted after the in-memory layer.
type Store interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte) error
}
