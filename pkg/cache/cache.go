// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the TTL key-value caches shared across directive
// executions: one for operation results, one for prompt templates. Both are
// safe for concurrent use and scoped to a runtime instance.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// TTLCache is a mutex-guarded map with per-entry expiry.
// Expired entries are treated as absent and reaped lazily.
type TTLCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration

	hits   int64
	misses int64
}

// NewTTL creates a cache whose entries default to the given TTL.
// A zero defaultTTL means entries never expire unless Set is called
// with an explicit TTL.
func NewTTL(defaultTTL time.Duration) *TTLCache {
	return &TTLCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
	}
}

// Get returns the cached value for key, or (nil, false) when the key is
// absent or expired.
func (c *TTLCache) Get(key string) (any, bool) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || e.expired(now) {
		c.mu.Lock()
		if ok {
			// Reap on read so Len stays honest.
			if current, still := c.entries[key]; still && current.expired(now) {
				delete(c.entries, key)
			}
		}
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return e.value, true
}

// Set stores value under key with the cache default TTL.
func (c *TTLCache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL.
// A non-positive ttl stores the entry without expiry.
func (c *TTLCache) SetWithTTL(key string, value any, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: expires}
	c.mu.Unlock()
}

// Delete removes key from the cache.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge discards every entry.
func (c *TTLCache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of live (non-expired) entries.
func (c *TTLCache) Len() int {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Stats reports cache size and hit/miss counts.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats returns a snapshot of cache statistics.
func (c *TTLCache) Stats() Stats {
	entries := c.Len()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries: entries,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
