// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheEntry is one cached execution outcome, keyed by fingerprint.
type CacheEntry struct {
	Output   any
	Duration time.Duration
	Logs     []string
}

// Cache is the content-addressed output cache a scheduler consults before
// invoking a runner: a fingerprint hit short-circuits a node straight to
// Completed. Backed by hashicorp/golang-lru/v2 for bounded in-process
// memory; Snapshot/Restore let a caller persist it across process runs.
type Cache struct {
	mu  sync.RWMutex
	lru *lru.Cache[string, CacheEntry]
}

// NewCache creates a Cache holding at most size entries.
func NewCache(size int) (*Cache, error) {
	l, err := lru.New[string, CacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get looks up a fingerprint.
func (c *Cache) Get(fingerprint string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Get(fingerprint)
}

// Put records an execution outcome under its fingerprint.
func (c *Cache) Put(fingerprint string, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(fingerprint, entry)
}

// Snapshot returns every cached entry, for persistence between runs.
func (c *Cache) Snapshot() map[string]CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]CacheEntry, c.lru.Len())
	for _, key := range c.lru.Keys() {
		if entry, ok := c.lru.Peek(key); ok {
			out[key] = entry
		}
	}
	return out
}

// Restore loads previously snapshotted entries, oldest-first eviction
// order is not preserved across a restore.
func (c *Cache) Restore(entries map[string]CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fingerprint, entry := range entries {
		c.lru.Add(fingerprint, entry)
	}
}
