package mitmtls

import (
	"crypto/tls"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheCapacity is the number of leaf certificates kept in memory
// before the least-recently-used entry is evicted.
const DefaultCacheCapacity = 1000

// Cache is a bounded, concurrency-safe cache of minted leaf certificates
// keyed by hostname: a long-lived proxy process that sees thousands of
// distinct hostnames must not grow a certificate map without bound.
type Cache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, *tls.Certificate]
}

// NewCache builds a Cache with the given capacity. A non-positive capacity
// falls back to DefaultCacheCapacity.
func NewCache(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	inner, err := lru.New[string, *tls.Certificate](capacity)
	if err != nil {
		return nil, &ConfigError{Op: "construct certificate cache", Err: err}
	}
	return &Cache{inner: inner}, nil
}

// GetOrCreate returns the cached certificate for host, minting one via mint
// and storing it if absent. mint is called at most once per miss even under
// concurrent callers for the same host.
func (c *Cache) GetOrCreate(host string, mint func(string) (*tls.Certificate, error)) (*tls.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cert, ok := c.inner.Get(host); ok {
		return cert, nil
	}

	cert, err := mint(host)
	if err != nil {
		return nil, err
	}
	c.inner.Add(host, cert)
	return cert, nil
}

// Len reports the number of certificates currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}
