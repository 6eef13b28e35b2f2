package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/promptgate/promptgate/pkg/models"
)

// Fingerprint computes a SHA-256 digest of a prompt and its extra flags,
// used as the memoization and dedup key.
func Fingerprint(prompt string, extraFlags []string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	for _, f := range extraFlags {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Cache is an in-memory exact-match response cache. Entries never expire;
// the cache lives and dies with the process and is cleared only explicitly.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]models.Result
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]models.Result)}
}

// Get retrieves a cached result by fingerprint.
func (c *Cache) Get(fingerprint string) (models.Result, bool) {
	c.mu.RLock()
	res, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return models.Result{}, false
	}
	c.hits.Add(1)
	return res, true
}

// Put stores a result under the given fingerprint.
func (c *Cache) Put(fingerprint string, res models.Result) {
	c.mu.Lock()
	c.entries[fingerprint] = res
	c.mu.Unlock()
}

// Clear removes all entries. Safe to call concurrently with Get and Put.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]models.Result)
	c.mu.Unlock()
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() models.CacheStats {
	c.mu.RLock()
	entries := int64(len(c.entries))
	c.mu.RUnlock()

	return models.CacheStats{
		Entries: entries,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
