package reqflow

import (
	"sync"
	"time"
)

// CacheConfig configures the response Cache stage.
type CacheConfig struct {
	Enabled bool
	// TTL is the lifetime the pipeline gives every entry it writes. Zero
	// means entries never expire.
	TTL time.Duration
}

type cacheEntry struct {
	body      []byte
	headers   map[string][]string
	expiresAt time.Time // zero value means never
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Cache is a keyed, in-memory, TTL-only store of response bodies. It never
// mutates bodies and evicts expired entries lazily on access.
// Hit/miss counting is the pipeline's concern, not this store's — Cache
// stays a plain data structure callers can exercise without an OTel
// dependency in tow.
// No persistence beyond this volatile, in-process store.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// Get returns the cached body for key iff it exists and has not expired.
// An expired entry is removed as part of the lookup.
func (c *Cache) Get(key string) ([]byte, map[string][]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, nil, false
	}
	if e.expired(time.Now()) {
		delete(c.entries, key)
		return nil, nil, false
	}
	return e.body, e.headers, true
}

// Set writes body under key. ttl <= 0 means the entry never expires.
func (c *Cache) Set(key string, body []byte, headers map[string][]string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.entries[key] = &cacheEntry{body: body, headers: headers, expiresAt: expiresAt}
}

// Clear empties the store.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}
