// Package embedding defines the Provider contract for an external
// embedding collaborator, plus the in-process LRU+TTL cache the worker
// consults before calling it.
package embedding

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Vector is a fixed-dimension embedding.
type Vector []float32

// Provider generates an embedding for a block of text.
type Provider interface {
	Generate(ctx context.Context, text string) (Vector, error)
}

// CanonicalText builds the text EmbeddingWorker hashes and embeds, per
// : "Name: …\nType: …\nObservations:\n- …".
func CanonicalText(name, entityType string, observations []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nType: %s\nObservations:\n", name, entityType)
	for _, o := range observations {
		fmt.Fprintf(&b, "- %s\n", o)
	}
	return b.String()
}

// CacheKey returns the MD5 hex digest of text, the key the worker's LRU
// cache is indexed by.
func CacheKey(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	vector  Vector
	expires time.Time
}

// Cache is a bounded, TTL-expiring embedding cache. Expiry is checked
// lazily on Get; no background sweeper runs
type Cache struct {
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration
	now func() time.Time
}

// NewCache creates a Cache holding at most maxEntries, with entries
// expiring ttl after insertion.
func NewCache(maxEntries int, ttl time.Duration) (*Cache, error) {
	inner, err := lru.New[string, cacheEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to create cache: %w", err)
	}
	return &Cache{lru: inner, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached vector for key if present and not expired.
func (c *Cache) Get(key string) (Vector, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.vector, true
}

// Put stores vector under key with the cache's configured TTL.
func (c *Cache) Put(key string, vector Vector) {
	c.lru.Add(key, cacheEntry{vector: vector, expires: c.now().Add(c.ttl)})
}
