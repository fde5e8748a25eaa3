package controller

import (
	"sync"
	"time"
)

// TokenCache provides thread-safe caching for a decoded access token with
// TTL support. Decoding is cheap but runs on every outbound request, so
// the result is kept until the raw token changes or the entry ages out.
type TokenCache struct {
	mu      sync.RWMutex
	raw     string
	decoded string
	expires time.Time
	ttl     time.Duration
}

// NewTokenCache creates a new token cache with the specified TTL.
func NewTokenCache(ttl time.Duration) *TokenCache {
	return &TokenCache{
		ttl: ttl,
	}
}

// Get returns the cached decoded token if it was produced from raw and
// hasn't expired.
func (c *TokenCache) Get(raw string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.decoded == "" || c.raw != raw || time.Now().After(c.expires) {
		return "", false
	}
	return c.decoded, true
}

// Set stores the decoded form of raw with the configured TTL.
func (c *TokenCache) Set(raw, decoded string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.raw = raw
	c.decoded = decoded
	c.expires = time.Now().Add(c.ttl)
}

// Clear removes any cached data.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.raw = ""
	c.decoded = ""
}
